package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnroutable is returned by Submit when no queue is bound to the job routing key
var ErrUnroutable = errors.New("job not routable")

// ReplyHandler receives the n-th thumbnail (starting at 1) for a submitted job
type ReplyHandler func(n int, body []byte) error

// Submit posts a job for source and hands up to want replies to handle.
// Returning closes the channel, which deletes the exclusive reply queue; the
// serving worker sees its destination disappear and goes back to waiting.
func (r *RabbitMQ) Submit(ctx context.Context, source string, want int, handle ReplyHandler) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	replyQueue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	replies, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume reply queue: %w", err)
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	correlationID := uuid.NewString()
	err = ch.PublishWithContext(
		ctx,
		r.config.Exchange,   // exchange
		r.config.RoutingKey, // routing key
		true,                // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:   "text/plain",
			CorrelationId: correlationID,
			MessageId:     uuid.NewString(),
			ReplyTo:       replyQueue.Name,
			Body:          []byte(source),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	r.logger.Info("rabbitmq: job submitted", "source", source, "reply_to", replyQueue.Name)

	for n := 1; n <= want; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ret := <-returns:
			return fmt.Errorf("%w: %s/%s: %d %s", ErrUnroutable, ret.Exchange, ret.RoutingKey, ret.ReplyCode, ret.ReplyText)
		case msg, ok := <-replies:
			if !ok {
				return fmt.Errorf("reply queue %s closed after %d replies", replyQueue.Name, n-1)
			}
			if msg.CorrelationId != "" && msg.CorrelationId != correlationID {
				continue
			}
			if err := handle(n, msg.Body); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}
