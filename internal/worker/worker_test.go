package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/queue"
)

type fakeCache struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCache) EnsureCached(_ context.Context, url, id string, onProgress videocache.ProgressFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id+"@"+url)
	if f.err != nil {
		return "", f.err
	}
	if onProgress != nil {
		onProgress(videocache.Progress{Loaded: 10, Total: 10, Percentage: 100})
	}
	return "/cache/videos/" + id + "?v=1", nil
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    chan *queue.Job
	retried []*queue.Job
	done    []string
}

func newFakeQueue(jobs ...*queue.Job) *fakeQueue {
	q := &fakeQueue{jobs: make(chan *queue.Job, len(jobs)+1)}
	for _, j := range jobs {
		q.jobs <- j
	}
	return q
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case j := <-q.jobs:
		return j, queue.QueueVideoPrefetch, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func (q *fakeQueue) Done(_ context.Context, videoID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, videoID)
	return nil
}

func prefetchJob(t *testing.T, videoID string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.VideoPrefetchPayload{VideoID: videoID, URL: "https://cdn.example.com/" + videoID + ".mp4", DisplayID: uuid.New()})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeVideoPrefetch, Payload: body, CreatedAt: time.Now()}
}

func TestPrefetchProcessor_Process(t *testing.T) {
	cache := &fakeCache{}
	q := newFakeQueue()
	p := NewPrefetchProcessor(cache, q, nil)

	require.NoError(t, p.Process(context.Background(), prefetchJob(t, "intro")))
	assert.Equal(t, []string{"intro@https://cdn.example.com/intro.mp4"}, cache.calls)
	assert.Equal(t, []string{"intro"}, q.done)
}

func TestPrefetchProcessor_ProcessRejectsOtherJobTypes(t *testing.T) {
	p := NewPrefetchProcessor(&fakeCache{}, newFakeQueue(), nil)
	err := p.Process(context.Background(), &queue.Job{ID: "x", Type: "email", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestPrefetchProcessor_ProcessFailureKeepsPending(t *testing.T) {
	cache := &fakeCache{err: videocache.ErrDownload}
	q := newFakeQueue()
	p := NewPrefetchProcessor(cache, q, nil)

	err := p.Process(context.Background(), prefetchJob(t, "broken"))
	require.ErrorIs(t, err, videocache.ErrDownload)
	assert.Empty(t, q.done)
}

func TestPrefetchProcessor_RunRetriesFailures(t *testing.T) {
	cache := &fakeCache{err: errors.New("disk full")}
	q := newFakeQueue(prefetchJob(t, "a"))
	p := NewPrefetchProcessor(cache, q, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, q.retried[0].Attempt)
}
