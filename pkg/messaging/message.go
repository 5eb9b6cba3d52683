package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDestinationGone is returned when a reply destination no longer exists
	ErrDestinationGone = errors.New("reply destination gone")

	// ErrConnection is returned when the job source cannot be reached at all
	ErrConnection = errors.New("cannot connect to job source")

	// ErrSubscriptionClosed is returned when a subscription's delivery stream has ended
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Job represents one thumbnail request received from the job queue.
type Job struct {
	ID            string    `json:"job_id"`
	Source        string    `json:"source"`
	ReplyTo       string    `json:"reply_to"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Reply is the payload sent back to a job's reply destination.
type Reply struct {
	Body        []byte
	ContentType string
}

// Subscription is one live binding between a worker and the job queue.
type Subscription interface {
	// Receive blocks until a job is available or ctx is done.
	Receive(ctx context.Context) (Job, error)
	// SendReply delivers reply to job.ReplyTo. It fails with ErrDestinationGone
	// when the destination no longer exists.
	SendReply(ctx context.Context, job Job, reply Reply) error
	Close() error
}

// Source hands out fresh subscriptions to the job queue.
type Source interface {
	Bind(ctx context.Context) (Subscription, error)
}
