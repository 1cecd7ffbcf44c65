// Package pebblestore persists trees in an embedded pebble key/value database, keyed by raw id bytes.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/cockroachdb/pebble"
)

type Options struct {
	// Sync every write to disk. Off by default; trees can be regenerated from their sources, and Close flushes.
	Sync bool

	// Re-hash every tree read from disk and fail on mismatch
	VerifyOnRead bool

	Logger *slog.Logger
}

func DefaultOptions() *Options {
	return &Options{}
}

type PebbleStore struct {
	db   *pebble.DB
	path string
	opts *Options
	log  *slog.Logger

	// serializes check-then-set in Put
	putLk sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ storage.ObjectStore = (*PebbleStore)(nil)

func Open(path string, opts *Options) (*PebbleStore, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &PebbleStore{
		db:   db,
		path: path,
		opts: opts,
		log:  log.With("system", "pebblestore", "path", path),
	}, nil
}

func (s *PebbleStore) writeOpts() *pebble.WriteOptions {
	if s.opts.Sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (s *PebbleStore) decode(id model.ObjectId, data []byte) (*model.RevTree, error) {
	if s.opts.VerifyOnRead {
		return codec.DecodeVerify(id, data)
	}
	return codec.Decode(id, data)
}

// load returns (nil, nil) when the key is absent
func (s *PebbleStore) load(id model.ObjectId) (*model.RevTree, error) {
	value, closer, err := s.db.Get(id[:])
	if closer != nil {
		defer closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", id, err)
	}
	// value is only valid until closer.Close; the decoder copies what it keeps
	t, err := s.decode(id, value)
	if err != nil {
		return nil, fmt.Errorf("decoding tree %s: %w", id, err)
	}
	return t, nil
}

func (s *PebbleStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	t, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (s *PebbleStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := s.load(id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			l.NotFound(id)
			continue
		}
		l.Found(id)
		out = append(out, t)
	}
	return out, nil
}

func (s *PebbleStore) exists(id model.ObjectId) (bool, error) {
	_, closer, err := s.db.Get(id[:])
	if closer != nil {
		closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get %s: %w", id, err)
	}
	return true, nil
}

func (s *PebbleStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	data, err := codec.Encode(t)
	if err != nil {
		return false, err
	}
	id := t.Id()

	s.putLk.Lock()
	defer s.putLk.Unlock()

	ok, err := s.exists(id)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.db.Set(id[:], data, s.writeOpts()); err != nil {
		return false, fmt.Errorf("pebble set %s: %w", id, err)
	}
	return true, nil
}

func (s *PebbleStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	s.putLk.Lock()
	defer s.putLk.Unlock()

	ok, err := s.exists(id)
	if err != nil || !ok {
		return false, err
	}
	if err := s.db.Delete(id[:], s.writeOpts()); err != nil {
		return false, fmt.Errorf("pebble delete %s: %w", id, err)
	}
	return true, nil
}

func (s *PebbleStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	return s.exists(id)
}

// Count iterates the whole keyspace. Intended for tooling, not hot paths.
func (s *PebbleStore) Count(ctx context.Context) (int, error) {
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Close flushes and closes the database. Later calls return the result of the first.
func (s *PebbleStore) Close() error {
	s.closeOnce.Do(func() {
		if err := s.db.Flush(); err != nil {
			s.log.Warn("failed to flush on close", "err", err)
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
