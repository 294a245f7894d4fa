package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
)

const (
	selectSnapshotSQL = `SELECT version, schema_version, state
		FROM account_snapshots
		WHERE account_id = $1`

	// The WHERE clause keeps an older save from overwriting a newer one.
	upsertSnapshotSQL = `INSERT INTO account_snapshots (account_id, version, schema_version, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account_id) DO UPDATE
		SET version = EXCLUDED.version,
			schema_version = EXCLUDED.schema_version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
		WHERE account_snapshots.version < EXCLUDED.version`
)

// SnapshotStore implements usecase.SnapshotStore on the account_snapshots table.
// It uses the pool directly so a failed save never poisons the command transaction.
type SnapshotStore struct {
	db querier
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return newSnapshotStore(pool)
}

func newSnapshotStore(db querier) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Load returns nil without error when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context, accountID domain.AccountID) (*domain.AccountSnapshot, error) {
	var (
		version       int64
		schemaVersion int
		state         []byte
	)
	err := s.db.QueryRow(ctx, selectSnapshotSQL, accountID.String()).Scan(&version, &schemaVersion, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot for %s: %w", accountID, err)
	}

	snap, err := codec.DecodeSnapshot(accountID, version, schemaVersion, state)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot stores snap unless a snapshot at the same or a later version exists.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	state, schemaVersion, err := codec.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, upsertSnapshotSQL, snap.AccountID.String(), snap.Version, schemaVersion, state)
	if err != nil {
		return fmt.Errorf("save snapshot for %s at v%d: %w", snap.AccountID, snap.Version, err)
	}
	return nil
}
