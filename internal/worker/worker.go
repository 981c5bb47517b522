package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/queue"
)

// Cacher is the part of the video cache the worker needs.
type Cacher interface {
	EnsureCached(ctx context.Context, url, id string, onProgress videocache.ProgressFunc) (string, error)
}

// JobQueue is the part of the job queue the worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
	Done(ctx context.Context, videoID string) error
}

// PrefetchProcessor processes video prefetch jobs: download the ad video into the local cache.
type PrefetchProcessor struct {
	cache   Cacher
	queue   JobQueue
	logger  *zap.Logger
	backoff time.Duration
}

// NewPrefetchProcessor creates a video prefetch processor.
func NewPrefetchProcessor(cache Cacher, q JobQueue, logger *zap.Logger) *PrefetchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrefetchProcessor{cache: cache, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one prefetch job.
func (p *PrefetchProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeVideoPrefetch(job)
	if err != nil {
		return err
	}

	var lastPct int
	handle, err := p.cache.EnsureCached(ctx, payload.URL, payload.VideoID, func(pr videocache.Progress) {
		if pct := int(pr.Percentage); pct/25 > lastPct/25 {
			lastPct = pct
			p.logger.Debug("prefetch progress", zap.String("video_id", payload.VideoID), zap.Int("percent", pct))
		}
	})
	if err != nil {
		return fmt.Errorf("cache video %s: %w", payload.VideoID, err)
	}

	if err := p.queue.Done(ctx, payload.VideoID); err != nil {
		p.logger.Warn("clear pending mark failed", zap.String("video_id", payload.VideoID), zap.Error(err))
	}
	p.logger.Info("video prefetch completed",
		zap.String("video_id", payload.VideoID),
		zap.String("display_id", payload.DisplayID.String()),
		zap.String("handle", handle))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PrefetchProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prefetch worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
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

func (p *PrefetchProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
