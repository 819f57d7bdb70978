package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps documents in a PostgreSQL table and appends every
// write to a revision history table.
type PostgresStore struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresStore creates a PostgresStore using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the schema
// from db.InitPostgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// Get retrieves the current content and revision of path.
func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	doc := &Document{Path: path}
	err := s.DB.QueryRowContext(ctx,
		`SELECT content, sha FROM documents WHERE path = $1`, path,
	).Scan(&doc.Content, &doc.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
	}
	return doc, nil
}

// Put creates path when revision is empty, or updates it only while its
// stored revision still equals revision. Both the document row and its
// history entry are written in one transaction.
func (s *PostgresStore) Put(ctx context.Context, path string, content []byte, revision, message string) (string, error) {
	sha := BlobSHA(content)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var res sql.Result
	if revision == "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, content, sha, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (path) DO NOTHING
		`, path, content, sha)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE documents SET content = $2, sha = $3, updated_at = now()
			WHERE path = $1 AND sha = $4
		`, path, content, sha, revision)
	}
	if err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: rows affected: %v", ErrUnavailable, err)
	}
	if rows == 0 {
		return "", ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_revisions (path, sha, content, message)
		VALUES ($1, $2, $3, $4)
	`, path, sha, content, message); err != nil {
		return "", fmt.Errorf("%w: record revision: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return sha, nil
}
