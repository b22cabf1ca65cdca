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
)

const (
	// QueueReconcile is the Redis list key for payment reconciliation jobs.
	QueueReconcile = "payments:reconcile"
	// QueueDLQ is the dead-letter queue for jobs that failed MaxRetries times.
	QueueDLQ = "payments:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second

	dedupePrefix     = "payments:reconcile:queued:"
	defaultDedupeTTL = 10 * time.Minute
	dequeueTimeout   = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReconcilePayment JobType = "reconcile_payment"
)

// ReconcilePayload asks the worker to re-query the provider for one pending payment.
type ReconcilePayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Reason    string    `json:"reason,omitempty"`
}

// Job is a generic job envelope. Key, when set, is the dedupe key released once the job is done.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Key       string          `json:"key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client    *redis.Client
	logger    *zap.Logger
	dedupeTTL time.Duration
}

// NewQueue creates a new Redis-backed job queue. A payment is queued at most once per
// dedupeTTL (default 10m) until its job completes.
func NewQueue(client *redis.Client, logger *zap.Logger, dedupeTTL time.Duration) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupeTTL <= 0 {
		dedupeTTL = defaultDedupeTTL
	}
	return &Queue{client: client, logger: logger, dedupeTTL: dedupeTTL}
}

// EnqueueReconcile queues a reconciliation job unless one for the same payment is already
// waiting. It reports whether a job was queued.
func (q *Queue) EnqueueReconcile(ctx context.Context, payload ReconcilePayload) (bool, error) {
	key := dedupePrefix + payload.PaymentID.String()
	ok, err := q.client.SetNX(ctx, key, time.Now().Unix(), q.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return false, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeReconcilePayment,
		Payload:   body,
		Key:       key,
		CreatedAt: time.Now(),
	}
	if err := q.push(ctx, QueueReconcile, &job); err != nil {
		q.client.Del(ctx, key)
		return false, err
	}
	q.logger.Debug("enqueued reconcile job", zap.String("job_id", job.ID), zap.String("payment_id", payload.PaymentID.String()))
	return true, nil
}

func (q *Queue) push(ctx context.Context, list string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, list, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue waits up to a few seconds for a job. It returns nil, nil when none arrived, so
// callers can check ctx between polls.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueReconcile).Result()
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

// Complete releases the dedupe key of a finished job.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if job.Key == "" {
		return nil
	}
	return q.client.Del(ctx, job.Key).Err()
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
		return q.Complete(ctx, job)
	}
	if err := q.push(ctx, QueueReconcile, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Len returns the number of waiting jobs and dead-lettered jobs.
func (q *Queue) Len(ctx context.Context) (waiting, dead int64, err error) {
	if waiting, err = q.client.LLen(ctx, QueueReconcile).Result(); err != nil {
		return 0, 0, err
	}
	dead, err = q.client.LLen(ctx, QueueDLQ).Result()
	return waiting, dead, err
}
