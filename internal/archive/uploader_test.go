package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func TestUploaderArchivesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json.zstd")
	if err := os.WriteFile(path, []byte("compressed"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := newMemStore()
	u := NewUploader(store, 4, zerolog.Nop())
	u.Start(1)
	u.Enqueue(path)
	u.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	got, ok := store.objects["session.json.zstd"]
	if !ok {
		t.Fatal("object never uploaded")
	}
	if string(got) != "compressed" {
		t.Fatalf("object = %q", got)
	}
}

func TestUploaderDropsWhenFull(t *testing.T) {
	store := newMemStore()
	u := NewUploader(store, 1, zerolog.Nop())
	// No workers: the single slot fills and further enqueues drop.
	u.Enqueue("/tmp/a")
	u.Enqueue("/tmp/b")
	if len(u.ch) != 1 {
		t.Fatalf("queue length = %d, want 1", len(u.ch))
	}
}

func TestUploaderIgnoresMissingFile(t *testing.T) {
	store := newMemStore()
	u := NewUploader(store, 4, zerolog.Nop())
	u.Start(1)
	u.Enqueue(filepath.Join(t.TempDir(), "missing.json.zstd"))
	u.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objects) != 0 {
		t.Fatalf("objects = %d, want 0", len(store.objects))
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	store := newMemStore()
	u := NewUploader(store, 4, zerolog.Nop())
	u.Start(1)
	u.Stop()
	// Must not panic on a closed channel.
	u.Enqueue("/tmp/late")
}
