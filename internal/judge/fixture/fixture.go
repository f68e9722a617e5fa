// Package fixture loads and caches problem test fixture packs.
//
// A pack is a zstd-compressed CSV object: one record per test case, two
// columns, input then expected output. Records are consumed in order.
package fixture

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/storage"
	"arbiter/internal/judge/sandbox"
	apperrors "arbiter/pkg/errors"
)

const (
	defaultMaxEntries = 64
	defaultTTL        = 10 * time.Minute

	lockTTL      = 30 * time.Second
	lockWait     = 200 * time.Millisecond
	lockAttempts = 10
)

// Loader fetches fixture packs from object storage with a bounded local
// cache. A distributed lock keeps concurrent workers from downloading the
// same pack simultaneously.
type Loader struct {
	store  storage.ObjectStorage
	bucket string
	locks  cache.LockOps

	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
}

type entry struct {
	tests    []sandbox.TestcaseSpec
	loadedAt time.Time
	lastUsed time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithMaxEntries bounds the local cache size.
func WithMaxEntries(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// WithTTL bounds how long a cached pack stays fresh.
func WithTTL(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// NewLoader creates a fixture loader. locks may be nil, in which case no
// cross-worker download coordination happens.
func NewLoader(store storage.ObjectStorage, bucket string, locks cache.LockOps, opts ...Option) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	l := &Loader{
		store:      store,
		bucket:     bucket,
		locks:      locks,
		entries:    make(map[string]*entry),
		maxEntries: defaultMaxEntries,
		ttl:        defaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load returns the ordered test cases for a fixture key.
func (l *Loader) Load(ctx context.Context, fixtureKey string) ([]sandbox.TestcaseSpec, error) {
	if fixtureKey == "" {
		return nil, apperrors.New(apperrors.FixtureNotFound)
	}

	if tests, ok := l.fromLocal(fixtureKey); ok {
		return tests, nil
	}

	release, err := l.acquireDownloadLock(ctx, fixtureKey)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}

	// Another worker may have warmed the cache while we waited.
	if tests, ok := l.fromLocal(fixtureKey); ok {
		return tests, nil
	}

	tests, err := l.download(ctx, fixtureKey)
	if err != nil {
		return nil, err
	}
	l.storeLocal(fixtureKey, tests)
	return tests, nil
}

// Invalidate drops a fixture from the local cache.
func (l *Loader) Invalidate(fixtureKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, fixtureKey)
}

func (l *Loader) fromLocal(key string) ([]sandbox.TestcaseSpec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.loadedAt) > l.ttl {
		delete(l.entries, key)
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.tests, true
}

func (l *Loader) storeLocal(key string, tests []sandbox.TestcaseSpec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.entries[key] = &entry{tests: tests, loadedAt: now, lastUsed: now}
	for len(l.entries) > l.maxEntries {
		var oldest string
		var oldestUsed time.Time
		for k, e := range l.entries {
			if oldest == "" || e.lastUsed.Before(oldestUsed) {
				oldest = k
				oldestUsed = e.lastUsed
			}
		}
		delete(l.entries, oldest)
	}
}

func (l *Loader) acquireDownloadLock(ctx context.Context, key string) (func(), error) {
	if l.locks == nil {
		return nil, nil
	}
	lockKey := "fixture:lock:" + key
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := l.locks.TryLock(ctx, lockKey, lockTTL)
		if err != nil {
			// Lock service trouble must not block judging.
			return nil, nil
		}
		if ok {
			return func() {
				_ = l.locks.Unlock(context.WithoutCancel(ctx), lockKey)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockWait):
		}
	}
	return nil, nil
}

func (l *Loader) download(ctx context.Context, key string) ([]sandbox.TestcaseSpec, error) {
	obj, err := l.store.GetObject(ctx, l.bucket, key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.StorageError)
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.FixtureCorrupted)
	}
	defer dec.Close()

	return ParsePack(dec)
}

// ParsePack decodes an uncompressed fixture CSV stream.
func ParsePack(r io.Reader) ([]sandbox.TestcaseSpec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	var tests []sandbox.TestcaseSpec
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.FixtureCorrupted)
		}
		tests = append(tests, sandbox.TestcaseSpec{
			Index:    len(tests) + 1,
			Input:    record[0],
			Expected: record[1],
		})
	}
	if len(tests) == 0 {
		return nil, apperrors.New(apperrors.FixtureCorrupted).WithMessage("fixture pack has no test cases")
	}
	return tests, nil
}
