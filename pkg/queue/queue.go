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
	// QueueVideoPrefetch is the Redis list key for video prefetch jobs.
	QueueVideoPrefetch = "worker:video_prefetch"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the default number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PendingTTL bounds how long a prefetch stays marked pending if its worker dies.
	PendingTTL = 30 * time.Minute

	pendingPrefix = "worker:video_prefetch:pending:"
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeVideoPrefetch JobType = "video_prefetch"
)

// VideoPrefetchPayload asks a worker to put one ad video into the cache.
type VideoPrefetchPayload struct {
	VideoID   string    `json:"video_id"`
	URL       string    `json:"url"`
	DisplayID uuid.UUID `json:"display_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client      *redis.Client
	logger      *zap.Logger
	maxAttempts int
}

// NewQueue creates a new Redis-backed job queue. maxAttempts <= 0 uses MaxRetries.
func NewQueue(client *redis.Client, logger *zap.Logger, maxAttempts int) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = MaxRetries
	}
	return &Queue{client: client, logger: logger, maxAttempts: maxAttempts}
}

// EnqueueVideoPrefetch enqueues a prefetch job unless one for the same video is already
// pending. It reports whether a job was added.
func (q *Queue) EnqueueVideoPrefetch(ctx context.Context, payload VideoPrefetchPayload) (bool, error) {
	ok, err := q.client.SetNX(ctx, pendingPrefix+payload.VideoID, 1, PendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark pending: %w", err)
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
		Type:      JobTypeVideoPrefetch,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueVideoPrefetch, raw).Err(); err != nil {
		q.client.Del(ctx, pendingPrefix+payload.VideoID)
		return false, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued video prefetch job", zap.String("job_id", job.ID), zap.String("video_id", payload.VideoID))
	return true, nil
}

// Done clears the pending mark of a finished prefetch so the video can be queued again later.
func (q *Queue) Done(ctx context.Context, videoID string) error {
	return q.client.Del(ctx, pendingPrefix+videoID).Err()
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueVideoPrefetch).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. Once the attempt limit is reached the
// job is pushed to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= q.maxAttempts {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueVideoPrefetch, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DecodeVideoPrefetch returns the payload of a video prefetch job.
func DecodeVideoPrefetch(job *Job) (VideoPrefetchPayload, error) {
	var p VideoPrefetchPayload
	if job.Type != JobTypeVideoPrefetch {
		return p, fmt.Errorf("unexpected job type %q", job.Type)
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal prefetch payload: %w", err)
	}
	return p, nil
}
