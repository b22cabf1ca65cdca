// Package worker runs background payment reconciliation: a sweeper that finds stale pending
// payments and a processor that re-queries their providers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/internal/payments"
	"github.com/hallhub/backend/pkg/queue"
)

// Reconciler re-queries the provider for one payment and applies the result.
type Reconciler interface {
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

// JobQueue is the queue side the processor needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Complete(ctx context.Context, job *queue.Job) error
}

// ReconcileProcessor processes reconcile_payment jobs.
type ReconcileProcessor struct {
	svc     Reconciler
	queue   JobQueue
	logger  *zap.Logger
	backoff time.Duration
}

// NewReconcileProcessor creates a reconcile job processor.
func NewReconcileProcessor(svc Reconciler, q JobQueue, logger *zap.Logger) *ReconcileProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileProcessor{svc: svc, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job. Jobs for payments that no longer exist are dropped.
func (p *ReconcileProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReconcilePayment {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReconcilePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	pay, err := p.svc.ReconcilePayment(ctx, payload.PaymentID)
	if errors.Is(err, payments.ErrPaymentNotFound) {
		p.logger.Warn("reconcile job for unknown payment", zap.String("payment_id", payload.PaymentID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", payload.PaymentID, err)
	}
	p.logger.Info("payment reconciled",
		zap.String("payment_id", pay.ID.String()),
		zap.String("provider", pay.PaymentGateway),
		zap.String("status", pay.Status),
		zap.String("reason", payload.Reason))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ReconcileProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconcile worker stopping")
			return nil
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *ReconcileProcessor) handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	if err := p.Process(ctx, job); err != nil {
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		if reErr := p.queue.Retry(ctx, job); reErr != nil {
			p.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		sleep(ctx, p.backoff)
		return
	}
	if err := p.queue.Complete(ctx, job); err != nil {
		p.logger.Warn("release job key failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
