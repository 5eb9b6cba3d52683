package jobstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mxngoc2104/thumbd/pkg/messaging"
)

// Record is the latest known state of a job
type Record struct {
	JobID       string          `json:"job_id"`
	Source      string          `json:"source"`
	ReplyTo     string          `json:"reply_to"`
	Worker      int             `json:"worker"`
	Stage       messaging.Stage `json:"stage"`
	Replies     int             `json:"replies"`
	Accelerated bool            `json:"accelerated"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store folds lifecycle events into job records
type Store interface {
	Publish(ctx context.Context, event messaging.Event) error
	Get(ctx context.Context, jobID string) (Record, bool, error)
}

// apply merges an event into a record. Empty fields keep earlier values.
func apply(rec Record, event messaging.Event) Record {
	rec.JobID = event.JobID
	if event.Source != "" {
		rec.Source = event.Source
	}
	if event.ReplyTo != "" {
		rec.ReplyTo = event.ReplyTo
	}
	rec.Worker = event.Worker
	rec.Stage = event.Stage
	if event.Replies > rec.Replies {
		rec.Replies = event.Replies
	}
	rec.Accelerated = event.Accelerated
	rec.Error = event.Error
	rec.UpdatedAt = event.HappenedAt
	return rec
}

// InMemoryStore keeps job records in process memory
type InMemoryStore struct {
	records map[string]Record
	mutex   sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]Record),
	}
}

// Publish records the event
func (s *InMemoryStore) Publish(ctx context.Context, event messaging.Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[event.JobID] = apply(s.records[event.JobID], event)
	return nil
}

// Get returns the record for a job
func (s *InMemoryStore) Get(ctx context.Context, jobID string) (Record, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	rec, ok := s.records[jobID]
	return rec, ok, nil
}

// RedisStore keeps one hash per job with a TTL
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	keyBase string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(redisURL string, ttl time.Duration, keyBase string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.MaxRetries = 5
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:  client,
		ttl:     ttl,
		keyBase: keyBase,
	}, nil
}

func (s *RedisStore) key(jobID string) string {
	return s.keyBase + ":" + jobID
}

// Publish writes the event fields to the job hash in one pipeline
func (s *RedisStore) Publish(ctx context.Context, event messaging.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	fields := map[string]interface{}{
		"job_id":      event.JobID,
		"worker":      event.Worker,
		"stage":       string(event.Stage),
		"accelerated": strconv.FormatBool(event.Accelerated),
		"error":       event.Error,
		"updated_at":  event.HappenedAt.UTC().Format(time.RFC3339Nano),
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.ReplyTo != "" {
		fields["reply_to"] = event.ReplyTo
	}
	if event.Replies > 0 {
		fields["replies"] = event.Replies
	}

	key := s.key(event.JobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job %s: %w", event.JobID, err)
	}
	return nil
}

// Get reads the job hash back into a record
func (s *RedisStore) Get(ctx context.Context, jobID string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	vals, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}

	rec := Record{
		JobID:   vals["job_id"],
		Source:  vals["source"],
		ReplyTo: vals["reply_to"],
		Stage:   messaging.Stage(vals["stage"]),
		Error:   vals["error"],
	}
	rec.Worker, _ = strconv.Atoi(vals["worker"])
	rec.Replies, _ = strconv.Atoi(vals["replies"])
	rec.Accelerated, _ = strconv.ParseBool(vals["accelerated"])
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	return rec, true, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
