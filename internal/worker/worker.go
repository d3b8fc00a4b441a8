package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/models"
	"github.com/brainquiz/backend/pkg/queue"
)

// ResultWriter stores finished session summaries. Writes are idempotent per session and user.
type ResultWriter interface {
	CreateFinished(ctx context.Context, f *models.FinishedSession) error
}

// ResultProcessor replays finished-session writes that failed when a game ended.
type ResultProcessor struct {
	results ResultWriter
	queue   *queue.Queue
	logger  *zap.Logger
	backoff time.Duration
}

// NewResultProcessor creates a finished-session retry processor.
func NewResultProcessor(results ResultWriter, q *queue.Queue, logger *zap.Logger) *ResultProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultProcessor{results: results, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one finished-session job.
func (p *ResultProcessor) Process(ctx context.Context, job *queue.Job) error {
	f, err := job.FinishedSession()
	if err != nil {
		return err
	}
	if err := p.results.CreateFinished(ctx, f); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	p.logger.Info("result stored", zap.String("job_id", job.ID), zap.String("session_ref", f.SessionRef), zap.String("user_id", f.UserID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ResultProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("result worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ResultProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
