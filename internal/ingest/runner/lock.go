package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"gorm.io/gorm"
)

// acquireLock claims the single lock row for an environment. A live
// lock blocks the run; a released or stale lock (older than staleAfter,
// meaning its holder exceeded the run timeout) is taken over.
func acquireLock(ctx context.Context, db *gorm.DB, environment, holder string, now time.Time, staleAfter time.Duration) error {
	staleBefore := now.Add(-staleAfter)

	res := db.WithContext(ctx).Exec(`
		INSERT INTO ingestion_locks (environment, holder, acquired_at, released_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT (environment) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			released_at = NULL
		WHERE ingestion_locks.released_at IS NOT NULL
		   OR ingestion_locks.acquired_at < ?`,
		environment, holder, now, staleBefore,
	)
	if res.Error != nil {
		return fmt.Errorf("acquire lock for %s: %w", environment, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: environment %s", domain.ErrConcurrentRun, environment)
	}
	return nil
}

// releaseLock marks the lock row released. Only the current holder may
// release; a stale takeover leaves the old holder's release a no-op.
func releaseLock(ctx context.Context, db *gorm.DB, environment, holder string, now time.Time) error {
	res := db.WithContext(ctx).Exec(`
		UPDATE ingestion_locks
		SET released_at = ?
		WHERE environment = ? AND holder = ? AND released_at IS NULL`,
		now, environment, holder,
	)
	if res.Error != nil {
		return fmt.Errorf("release lock for %s: %w", environment, res.Error)
	}
	return nil
}
