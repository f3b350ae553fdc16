package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

// InsertSnapshots bulk-inserts snapshots in their own transaction, all
// sharing one captured_at. Empty input is a no-op.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertSnapshotsTx(ctx, tx, snaps); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSnapshotsTx(ctx context.Context, tx *sql.Tx, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const cols = 5
	placeholders := make([]string, 0, len(snaps))
	args := make([]any, 0, len(snaps)*cols)

	for i, snap := range snaps {
		base := i*cols + 1
		placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			base, base+1, base+2, base+3, base+4))
		args = append(args, snap.ItemID, snap.CapturedAt, snap.Score, snap.Descendants, snap.Reason)
	}

	query := fmt.Sprintf(`
		INSERT INTO snapshots (item_id, captured_at, score, descendants, reason)
		VALUES %s`, strings.Join(placeholders, ","))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
