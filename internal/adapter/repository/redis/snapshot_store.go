package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
)

const (
	fieldVersion       = "version"
	fieldSchemaVersion = "schema_version"
	fieldState         = "state"

	maxSnapshotSaveAttempts = 3
)

// SnapshotStore implements usecase.SnapshotStore with one Redis hash per account.
type SnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore creates a SnapshotStore. A zero ttl keeps snapshots forever.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		prefix: "eventledger:snapshot:",
		ttl:    ttl,
	}
}

func (s *SnapshotStore) key(accountID domain.AccountID) string {
	return s.prefix + accountID.String()
}

// Load returns nil without error when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context, accountID domain.AccountID) (*domain.AccountSnapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", accountID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: version %q", domain.ErrSnapshotCorrupted, accountID, fields[fieldVersion])
	}
	schemaVersion, err := strconv.Atoi(fields[fieldSchemaVersion])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: schema version %q", domain.ErrSnapshotCorrupted, accountID, fields[fieldSchemaVersion])
	}

	snap, err := codec.DecodeSnapshot(accountID, version, schemaVersion, []byte(fields[fieldState]))
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot writes snap unless the stored snapshot is at the same or a
// later version. The check and the write run under WATCH so a concurrent
// save cannot be overwritten by an older one.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	state, schemaVersion, err := codec.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	key := s.key(snap.AccountID)

	save := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && current >= snap.Version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldVersion, snap.Version,
				fieldSchemaVersion, schemaVersion,
				fieldState, state,
			)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSnapshotSaveAttempts; attempt++ {
		err = s.client.Watch(ctx, save, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save snapshot for %s at v%d: %w", snap.AccountID, snap.Version, err)
	}
	return nil
}
