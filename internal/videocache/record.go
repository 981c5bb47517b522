// Package videocache keeps fully downloaded ad videos on local storage so a display can play
// them without streaming. Records are keyed by a caller-supplied id, only become visible once
// the whole body has been received, and are kept until explicitly deleted.
package videocache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("video not cached")
	// ErrDownload wraps every failure to fetch a video body.
	ErrDownload = errors.New("video download failed")
)

// Record is one cached video.
type Record struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cached_at"`
	// Blob is the video body. It is nil on records returned by Stat and List.
	Blob []byte `json:"-"`
}

// Progress reports a download in flight.
type Progress struct {
	Loaded     int64   `json:"loaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ProgressFunc receives download progress. It is only called when the server sent a length.
type ProgressFunc func(Progress)

// Backend is durable key-value storage for records. Put must be atomic: a concurrent
// reader sees either the previous record or the complete new one.
type Backend interface {
	// Get returns the record with its blob, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Stat returns the record without its blob, or ErrNotFound.
	Stat(ctx context.Context, id string) (*Record, error)
	// Put stores rec, replacing any record with the same id.
	Put(ctx context.Context, rec *Record) error
	// Delete removes the record for id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error
	// List returns every record without blobs.
	List(ctx context.Context) ([]Record, error)
	// Clear removes every record but keeps the schema version.
	Clear(ctx context.Context) error
	// SchemaVersion returns the stored schema version, 0 when unset.
	SchemaVersion(ctx context.Context) (int, error)
	SetSchemaVersion(ctx context.Context, v int) error
	Close() error
}
