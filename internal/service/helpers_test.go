package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/repository"
)

const tenant = "demo"

func newDocs(s repository.Store) *repository.Documents {
	return repository.NewDocuments(s, zap.NewNop()).WithRetry(10, time.Millisecond)
}

func newUserService(t *testing.T) (*UserService, *repository.MemoryStore) {
	t.Helper()
	mem := repository.NewMemoryStore()
	return NewUserService(newDocs(mem), zap.NewNop()), mem
}

func seed(t *testing.T, mem *repository.MemoryStore, path, content string) {
	t.Helper()
	if _, err := mem.Put(context.Background(), path, []byte(content), "", "seed"); err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
}

// flakyStore fails writes to paths containing failOn until it is healed.
type flakyStore struct {
	*repository.MemoryStore
	mu     sync.Mutex
	failOn string
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = ""
}

func (f *flakyStore) Put(ctx context.Context, path string, content []byte, revision, message string) (string, error) {
	f.mu.Lock()
	fail := f.failOn != "" && strings.Contains(path, f.failOn)
	f.mu.Unlock()
	if fail {
		return "", repository.ErrUnavailable
	}
	return f.MemoryStore.Put(ctx, path, content, revision, message)
}
