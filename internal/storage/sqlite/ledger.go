package sqlite

import (
	"context"
	"time"
)

// timeLayout sorts lexically in time order, which the prune query relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// MarkNotified records id unless it is already present.
func (s *Store) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.write.ExecContext(ctx,
		`INSERT OR IGNORE INTO notified_uploads (upload_id, notified_at) VALUES (?, ?)`,
		id, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UnmarkNotified removes id from the ledger.
func (s *Store) UnmarkNotified(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM notified_uploads WHERE upload_id = ?`, id)
	return err
}

// PruneNotified deletes records older than before.
func (s *Store) PruneNotified(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM notified_uploads WHERE notified_at < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
