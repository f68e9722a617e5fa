package fixture_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"arbiter/internal/common/storage"
	"arbiter/internal/judge/fixture"
	"arbiter/internal/judge/sandbox"
	appErr "arbiter/pkg/errors"
)

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (f *fakeObjectStorage) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
}

func (f *fakeObjectStorage) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeObjectReader struct {
	*bytes.Reader
}

func (f *fakeObjectReader) Close() error { return nil }

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return &fakeObjectReader{Reader: bytes.NewReader(data)}, nil
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.put(bucket, objectKey, data)
	return nil
}

func (f *fakeObjectStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, errors.New("object not found")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func (f *fakeObjectStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo)
	close(ch)
	return ch
}

func (f *fakeObjectStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.objects, bucket+"/"+key)
	}
	return nil
}

func packBytes(t *testing.T, tests []sandbox.TestcaseSpec) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := fixture.BuildPack(&buf, tests); err != nil {
		t.Fatalf("build pack failed: %v", err)
	}
	return buf.Bytes()
}

func TestLoaderLoadCachesLocally(t *testing.T) {
	t.Parallel()
	store := newFakeObjectStorage()
	store.put("fixtures", "problem-1.pack", packBytes(t, []sandbox.TestcaseSpec{
		{Input: "in", Expected: "out"},
	}))

	loader, err := fixture.NewLoader(store, "fixtures", nil)
	if err != nil {
		t.Fatalf("new loader failed: %v", err)
	}

	ctx := context.Background()
	tests, err := loader.Load(ctx, "problem-1.pack")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(tests) != 1 || tests[0].Input != "in" || tests[0].Expected != "out" {
		t.Fatalf("unexpected tests: %+v", tests)
	}

	if _, err := loader.Load(ctx, "problem-1.pack"); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if store.getCount() != 1 {
		t.Fatalf("expected 1 storage fetch, got %d", store.getCount())
	}
}

func TestLoaderInvalidateForcesRedownload(t *testing.T) {
	t.Parallel()
	store := newFakeObjectStorage()
	store.put("fixtures", "problem-2.pack", packBytes(t, []sandbox.TestcaseSpec{
		{Input: "a", Expected: "b"},
	}))

	loader, err := fixture.NewLoader(store, "fixtures", nil)
	if err != nil {
		t.Fatalf("new loader failed: %v", err)
	}

	ctx := context.Background()
	if _, err := loader.Load(ctx, "problem-2.pack"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	loader.Invalidate("problem-2.pack")
	if _, err := loader.Load(ctx, "problem-2.pack"); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if store.getCount() != 2 {
		t.Fatalf("expected 2 storage fetches, got %d", store.getCount())
	}
}

func TestLoaderCorruptedPack(t *testing.T) {
	t.Parallel()
	store := newFakeObjectStorage()
	store.put("fixtures", "broken.pack", []byte("not zstd at all"))

	loader, err := fixture.NewLoader(store, "fixtures", nil)
	if err != nil {
		t.Fatalf("new loader failed: %v", err)
	}

	_, err = loader.Load(context.Background(), "broken.pack")
	if err == nil || !appErr.Is(err, appErr.FixtureCorrupted) {
		t.Fatalf("expected FixtureCorrupted, got %v", err)
	}
}

func TestLoaderEmptyKey(t *testing.T) {
	t.Parallel()
	store := newFakeObjectStorage()
	loader, err := fixture.NewLoader(store, "fixtures", nil)
	if err != nil {
		t.Fatalf("new loader failed: %v", err)
	}
	_, err = loader.Load(context.Background(), "")
	if err == nil || !appErr.Is(err, appErr.FixtureNotFound) {
		t.Fatalf("expected FixtureNotFound, got %v", err)
	}
}
