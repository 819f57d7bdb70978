// Package repository implements the tenant document store: a small port
// over a versioned JSON object store (GitHub Contents API, Postgres or
// memory) plus helpers for optimistic read-modify-write cycles.
package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// Document is a stored file together with the revision it was read at.
type Document struct {
	Path     string
	Content  []byte
	Revision string
}

// Store is a versioned object store addressed by slash separated paths.
type Store interface {
	// Get returns the current document at path or ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)
	// Put writes content at path. revision must be the revision the caller
	// last observed, or empty to create a document that does not exist yet.
	// It returns the new revision, or ErrConflict if the precondition failed.
	Put(ctx context.Context, path string, content []byte, revision, message string) (string, error)
}

// BlobSHA returns the git blob object id of content, which is the revision
// token GitHub reports for a file with that content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
