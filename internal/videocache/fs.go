package videocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	versionFile = "VERSION"
	recordsDir  = "records"
	tmpDir      = "tmp"
	metaExt     = ".json"
	blobExt     = ".blob"
)

// FSBackend stores each record as a blob file plus a JSON metadata file under dir.
// A record becomes visible when its metadata file is renamed into place, which happens
// after the blob is complete.
type FSBackend struct {
	dir string
	mu  sync.RWMutex
}

// NewFSBackend creates dir if needed and returns a backend rooted there.
func NewFSBackend(dir string) (*FSBackend, error) {
	for _, d := range []string{dir, filepath.Join(dir, recordsDir), filepath.Join(dir, tmpDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &FSBackend{dir: dir}, nil
}

func (b *FSBackend) key(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func (b *FSBackend) metaPath(id string) string {
	return filepath.Join(b.dir, recordsDir, b.key(id)+metaExt)
}

func (b *FSBackend) blobPath(id string) string {
	return filepath.Join(b.dir, recordsDir, b.key(id)+blobExt)
}

func (b *FSBackend) Stat(_ context.Context, id string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readMeta(b.metaPath(id))
}

func (b *FSBackend) Get(_ context.Context, id string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, err := b.readMeta(b.metaPath(id))
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(b.blobPath(id))
	if err != nil {
		return nil, fmt.Errorf("read blob for %s: %w", id, err)
	}
	rec.Blob = blob
	return rec, nil
}

func (b *FSBackend) Put(_ context.Context, rec *Record) error {
	meta, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeAtomic(b.blobPath(rec.ID), rec.Blob); err != nil {
		return err
	}
	return b.writeAtomic(b.metaPath(rec.ID), meta)
}

func (b *FSBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(b.metaPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if err := os.Remove(b.blobPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

func (b *FSBackend) List(_ context.Context) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries, err := os.ReadDir(filepath.Join(b.dir, recordsDir))
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaExt) {
			continue
		}
		rec, err := b.readMeta(filepath.Join(b.dir, recordsDir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *FSBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range []string{recordsDir, tmpDir} {
		path := filepath.Join(b.dir, d)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	return nil
}

func (b *FSBackend) SchemaVersion(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, err := os.ReadFile(filepath.Join(b.dir, versionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse schema version: %w", err)
	}
	return v, nil
}

func (b *FSBackend) SetSchemaVersion(_ context.Context, v int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeAtomic(filepath.Join(b.dir, versionFile), []byte(strconv.Itoa(v)+"\n"))
}

func (b *FSBackend) Close() error { return nil }

func (b *FSBackend) readMeta(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (b *FSBackend) writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Join(b.dir, tmpDir), "put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
