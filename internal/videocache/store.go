package videocache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SchemaVersion is the record layout written by this package. Bump it when Record changes;
// stores opened with a different stored version are cleared.
const SchemaVersion = 1

// DefaultBaseURL is the path prefix of handles returned by the store.
const DefaultBaseURL = "/cache/videos"

// DefaultMaxSize caps a single download when WithMaxSize is not given.
const DefaultMaxSize int64 = 500 << 20

// maxPrealloc bounds how much of a declared Content-Length is allocated up front.
const maxPrealloc int64 = 64 << 20

// Store is a video cache over a Backend. Open one per process and share it.
type Store struct {
	backend       Backend
	client        *http.Client
	logger        *zap.Logger
	baseURL       string
	schemaVersion int
	maxSize       int64
	now           func() time.Time
	inflight      singleflight.Group
}

// Option customizes a Store.
type Option func(*Store)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseURL sets the prefix of returned handles.
func WithBaseURL(base string) Option {
	return func(s *Store) {
		if base != "" {
			s.baseURL = base
		}
	}
}

// WithClock overrides the insertion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxSize rejects downloads larger than n bytes.
func WithMaxSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithSchemaVersion overrides SchemaVersion, mainly for tests.
func WithSchemaVersion(v int) Option {
	return func(s *Store) { s.schemaVersion = v }
}

// Open wraps backend in a Store, clearing it if it was written with another schema version.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:       backend,
		client:        http.DefaultClient,
		logger:        zap.NewNop(),
		baseURL:       DefaultBaseURL,
		schemaVersion: SchemaVersion,
		maxSize:       DefaultMaxSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	stored, err := backend.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cache schema version: %w", err)
	}
	if stored != s.schemaVersion {
		if stored != 0 {
			s.logger.Warn("video cache schema changed, clearing", zap.Int("stored", stored), zap.Int("current", s.schemaVersion))
			if err := backend.Clear(ctx); err != nil {
				return nil, fmt.Errorf("clear outdated cache: %w", err)
			}
		}
		if err := backend.SetSchemaVersion(ctx, s.schemaVersion); err != nil {
			return nil, fmt.Errorf("write cache schema version: %w", err)
		}
	}
	return s, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// EnsureCached returns a local handle for id, downloading rawURL first when id is not cached.
// Concurrent calls for the same id share one download; only the caller that started it
// receives progress. The shared download is not cancelled by any one caller's context, but
// each caller stops waiting when its own context ends. Download errors wrap ErrDownload and
// leave nothing behind.
func (s *Store) EnsureCached(ctx context.Context, rawURL, id string, onProgress ProgressFunc) (string, error) {
	rec, err := s.backend.Stat(ctx, id)
	if err == nil {
		return s.handle(rec), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("stat video %s: %w", id, err)
	}

	fillCtx := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(id, func() (any, error) {
		if rec, err := s.backend.Stat(fillCtx, id); err == nil {
			return rec, nil
		}
		blob, err := s.Download(fillCtx, rawURL, onProgress)
		if err != nil {
			return nil, err
		}
		rec := &Record{ID: id, URL: rawURL, Size: int64(len(blob)), CachedAt: s.now(), Blob: blob}
		if err := s.backend.Put(fillCtx, rec); err != nil {
			return nil, fmt.Errorf("store video %s: %w", id, err)
		}
		s.logger.Info("video cached", zap.String("video_id", id), zap.String("url", rawURL), zap.Int64("bytes", rec.Size))
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("video cache fill failed", zap.String("video_id", id), zap.String("url", rawURL), zap.Error(res.Err))
			return "", res.Err
		}
		return s.handle(res.Val.(*Record)), nil
	}
}

// Download fetches rawURL into memory, reporting progress when the length is known. Bodies
// larger than the store's max size fail with ErrDownload.
func (s *Store) Download(ctx context.Context, rawURL string, onProgress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrDownload, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrDownload, rawURL, resp.StatusCode)
	}

	total := resp.ContentLength
	if total > s.maxSize {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit is %d", ErrDownload, rawURL, total, s.maxSize)
	}
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, maxPrealloc)))
	}
	var body io.Reader = resp.Body
	if onProgress != nil && total > 0 {
		body = &progressReader{r: resp.Body, total: total, fn: onProgress}
	}
	n, err := io.Copy(&buf, io.LimitReader(body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownload, err)
	}
	if n > s.maxSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrDownload, rawURL, s.maxSize)
	}
	return buf.Bytes(), nil
}

// GetVideo returns the cached record with its blob, or nil when id is not cached.
func (s *Store) GetVideo(ctx context.Context, id string) (*Record, error) {
	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// IsCached reports whether a record exists for id.
func (s *Store) IsCached(ctx context.Context, id string) (bool, error) {
	_, err := s.backend.Stat(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetBlobURL returns the local handle for id without downloading. ok is false on a miss.
func (s *Store) GetBlobURL(ctx context.Context, id string) (handle string, ok bool, err error) {
	rec, err := s.backend.Stat(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.handle(rec), true, nil
}

// DeleteVideo removes the record for id.
func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id)
}

// ListCached returns every record without blobs.
func (s *Store) ListCached(ctx context.Context) ([]Record, error) {
	return s.backend.List(ctx)
}

// ClearAll removes every record.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// GetCacheSize returns the summed size of all records in bytes.
func (s *Store) GetCacheSize(ctx context.Context) (int64, error) {
	records, err := s.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range records {
		total += r.Size
	}
	return total, nil
}

func (s *Store) handle(rec *Record) string {
	return fmt.Sprintf("%s/%s?v=%d", s.baseURL, url.PathEscape(rec.ID), rec.CachedAt.UnixNano())
}

type progressReader struct {
	r      io.Reader
	loaded int64
	total  int64
	fn     ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.fn(Progress{
			Loaded:     p.loaded,
			Total:      p.total,
			Percentage: float64(p.loaded) / float64(p.total) * 100,
		})
	}
	return n, err
}
