// Package backup takes periodic snapshots of the notes database and keeps
// the newest few in object storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/db"
	"github.com/kuitang/note-organizer/internal/obs"
	"github.com/kuitang/note-organizer/internal/s3client"
)

const (
	// DefaultPrefix is the key prefix snapshots are stored under.
	DefaultPrefix = "backups/"
	// DefaultKeep is how many snapshots Prune leaves behind.
	DefaultKeep = 24

	snapshotContentType = "application/vnd.sqlite3"
	keyTimeLayout       = "20060102T150405.000000000Z"
)

var logger = obs.Pkg("backup")

// Store is the subset of s3client.Client used for snapshots.
type Store interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]s3client.ObjectInfo, error)
}

// Options configures a Snapshotter.
type Options struct {
	Prefix string
	Keep   int
	Clock  clock.Clock
}

// Snapshotter copies the database into a Store.
type Snapshotter struct {
	db     *db.DB
	store  Store
	prefix string
	keep   int
	clock  clock.Clock
}

// New returns a Snapshotter. Zero Options fields take the defaults.
func New(database *db.DB, store Store, opts Options) *Snapshotter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Snapshotter{db: database, store: store, prefix: opts.Prefix, keep: opts.Keep, clock: opts.Clock}
}

// Key returns the object key for a snapshot taken at t. Keys sort in time order.
func (s *Snapshotter) Key(t time.Time) string {
	return s.prefix + "notes-" + t.UTC().Format(keyTimeLayout) + ".db"
}

// Snapshot uploads a consistent copy of the database and returns its key.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "notes-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "notes.db")
	if err := s.db.VacuumInto(ctx, path); err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}

	key := s.Key(s.clock.Now())
	if err := s.store.PutObject(ctx, key, content, snapshotContentType); err != nil {
		return "", err
	}
	logger.Info("snapshot uploaded", "key", key, "bytes", len(content))
	return key, nil
}

// List returns snapshot keys, oldest first.
func (s *Snapshotter) List(ctx context.Context) ([]string, error) {
	objects, err := s.store.ListObjects(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".db") {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Prune deletes all but the newest Keep snapshots and returns how many it removed.
func (s *Snapshotter) Prune(ctx context.Context) (int, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) <= s.keep {
		return 0, nil
	}
	var deleted int
	var errs []error
	for _, key := range keys[:len(keys)-s.keep] {
		if err := s.store.DeleteObject(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Restore writes the snapshot stored at key to dest, which must not exist.
// An empty key restores the newest snapshot.
func (s *Snapshotter) Restore(ctx context.Context, key, dest string) (string, error) {
	if key == "" {
		keys, err := s.List(ctx)
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			return "", s3client.ErrObjectNotFound
		}
		key = keys[len(keys)-1]
	}
	content, err := s.store.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(dest); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("open restore target: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write restore target: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return key, nil
}

// RunOnce takes a snapshot and prunes old ones.
func (s *Snapshotter) RunOnce(ctx context.Context) error {
	if _, err := s.Snapshot(ctx); err != nil {
		return err
	}
	n, err := s.Prune(ctx)
	if n > 0 {
		logger.Info("old snapshots pruned", "count", n)
	}
	return err
}

// Run snapshots every interval until ctx is cancelled. Failures are logged
// and retried on the next tick.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("snapshot failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
