package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// PruneRevisions removes history entries older than retention. The current
// content of every document lives in the documents table and is never touched.
func PruneRevisions(ctx context.Context, db *sql.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := db.ExecContext(ctx, `
        DELETE FROM document_revisions
         WHERE created_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRevisionPruner prunes old revisions every interval until ctx is done.
func StartRevisionPruner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rows, err := PruneRevisions(ctx, db, retention)
				if err != nil {
					log.Error("failed to prune document revisions", zap.Error(err))
					continue
				}
				if rows > 0 {
					log.Info("pruned document revisions", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
