package testsupport

import (
	"testing"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/queue"
)

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenChapters opens a chapterstore.Store for tests and registers cleanup.
func MustOpenChapters(t testing.TB, cfg *config.Config) *chapterstore.Store {
	t.Helper()

	store, err := chapterstore.Open(cfg)
	if err != nil {
		t.Fatalf("chapterstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenBlobs opens the configured blob store rooted under the test dirs.
func MustOpenBlobs(t testing.TB, cfg *config.Config) blob.Store {
	t.Helper()

	store, err := blob.FromConfig(cfg)
	if err != nil {
		t.Fatalf("blob.FromConfig: %v", err)
	}
	return store
}
