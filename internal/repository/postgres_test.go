package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selectDocument = `SELECT content, sha FROM documents WHERE path = $1`
	insertDocument = `INSERT INTO documents (path, content, sha, updated_at)`
	updateDocument = `UPDATE documents SET content = $2, sha = $3, updated_at = now()`
	insertRevision = `INSERT INTO document_revisions (path, sha, content, message)`
)

func setupMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	store := NewPostgresStore(db)
	cleanup := func() {
		db.Close()
	}
	return store, mock, cleanup
}

func TestPostgresGet_Success(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("data/demo/users.json").
		WillReturnRows(sqlmock.NewRows([]string{"content", "sha"}).AddRow([]byte(`{"allowed":[]}`), "abc"))

	doc, err := store.Get(context.Background(), "data/demo/users.json")
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.Revision)
	assert.Equal(t, `{"allowed":[]}`, string(doc.Content))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFoundAndFailure(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("a.json").
		WillReturnRows(sqlmock.NewRows([]string{"content", "sha"}))
	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs("b.json").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Get(context.Background(), "a.json")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), "b.json")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut_Create(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	content := []byte("[]\n")
	sha := BlobSHA(content)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDocument)).
		WithArgs("public/menus/demo.json", content, sha).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevision)).
		WithArgs("public/menus/demo.json", sha, content, "save menu").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rev, err := store.Put(context.Background(), "public/menus/demo.json", content, "", "save menu")
	require.NoError(t, err)
	assert.Equal(t, sha, rev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut_UpdateConflict(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	content := []byte("{}\n")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateDocument)).
		WithArgs("data/demo/pending.json", content, BlobSHA(content), "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Put(context.Background(), "data/demo/pending.json", content, "stale", "m")
	require.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut_CreateExisting(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertDocument)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Put(context.Background(), "x.json", []byte("1"), "", "m")
	require.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut_Failures(t *testing.T) {
	store, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	_, err := store.Put(context.Background(), "x.json", []byte("1"), "", "m")
	require.ErrorIs(t, err, ErrUnavailable)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateDocument)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevision)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	_, err = store.Put(context.Background(), "x.json", []byte("2"), "rev", "m")
	require.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}
