package repository

import (
	"context"
	"slices"
	"sync"
)

// Commit records one successful write to a MemoryStore.
type Commit struct {
	Path     string
	Revision string
	Message  string
}

// MemoryStore keeps documents in process memory with the same revision
// semantics as the GitHub backend. It backs the "memory" store mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]Document
	commits []Commit
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Get returns a copy of the document at path.
func (m *MemoryStore) Get(_ context.Context, path string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	doc.Content = slices.Clone(doc.Content)
	return &doc, nil
}

// Put writes content when revision matches the stored one.
func (m *MemoryStore) Put(_ context.Context, path string, content []byte, revision, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.docs[path]
	if exists != (revision != "") || (exists && cur.Revision != revision) {
		return "", ErrConflict
	}

	rev := BlobSHA(content)
	m.docs[path] = Document{Path: path, Content: slices.Clone(content), Revision: rev}
	m.commits = append(m.commits, Commit{Path: path, Revision: rev, Message: message})
	return rev, nil
}

// Commits returns the write history in order.
func (m *MemoryStore) Commits() []Commit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.commits)
}
