package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/models"
)

const (
	// QueueResults is the Redis list key for finished-session writes that failed inline.
	QueueResults = "worker:results"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds one blocking pop so the caller can observe cancellation.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeFinishedSession JobType = "finished_session"
)

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// FinishedSession decodes the payload of a finished-session job.
func (j *Job) FinishedSession() (*models.FinishedSession, error) {
	if j.Type != JobTypeFinishedSession {
		return nil, fmt.Errorf("unknown job type: %s", j.Type)
	}
	var f models.FinishedSession
	if err := json.Unmarshal(j.Payload, &f); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &f, nil
}

// Lists is the part of the Redis client the queue uses. *redis.Client satisfies it.
type Lists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client Lists
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client Lists, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueResult enqueues a finished session whose write failed so a worker can retry it.
func (q *Queue) EnqueueResult(ctx context.Context, f *models.FinishedSession) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeFinishedSession,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	if err := q.push(ctx, QueueResults, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued result job", zap.String("job_id", job.ID), zap.String("session_ref", f.SessionRef))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue waits up to PollTimeout for a job. It returns nil, nil when none arrived
// or when the entry could not be decoded.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueResults).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, QueueResults, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
