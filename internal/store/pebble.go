package store

import (
	"context"
	"errors"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

const pebbleRecordPrefix = "rec/"

// PebbleStore implements RecordStore on an embedded Pebble key-value store.
// Each record is one key, so Set with Sync is the atomic upsert.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebble opens (creating if needed) a Pebble database in dir.
func NewPebble(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "pebble: ensure directory")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, eris.Wrap(err, "pebble: open")
	}
	return &PebbleStore{db: db}, nil
}

func recordKey(entityID string) []byte {
	return []byte(pebbleRecordPrefix + entityID)
}

// Migrate implements RecordStore. Pebble has no schema.
func (s *PebbleStore) Migrate(context.Context) error { return nil }

// Close implements RecordStore.
func (s *PebbleStore) Close() error {
	return eris.Wrap(s.db.Close(), "pebble: close")
}

// Get implements RecordStore.
func (s *PebbleStore) Get(_ context.Context, entityID string) (*model.EnrichmentRecord, error) {
	value, closer, err := s.db.Get(recordKey(entityID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pebble: get %s", entityID)
	}
	defer closer.Close() //nolint:errcheck
	return decodeOrWarn("pebble", entityID, value), nil
}

// Upsert implements RecordStore.
func (s *PebbleStore) Upsert(_ context.Context, entityID string, rec *model.EnrichmentRecord) error {
	data, err := EncodeRecord(entityID, rec)
	if err != nil {
		return err
	}
	return eris.Wrapf(s.db.Set(recordKey(entityID), data, pebble.Sync), "pebble: set %s", entityID)
}

// UpsertMany implements BulkWriter with one synced batch.
func (s *PebbleStore) UpsertMany(_ context.Context, recs []*model.EnrichmentRecord) (int64, error) {
	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck

	var n int64
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		data, err := EncodeRecord(rec.EntityID, rec)
		if err != nil {
			return 0, err
		}
		if err := batch.Set(recordKey(rec.EntityID), data, nil); err != nil {
			return 0, eris.Wrapf(err, "pebble: batch set %s", rec.EntityID)
		}
		n++
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, eris.Wrap(err, "pebble: commit batch")
	}
	return n, nil
}

// List implements RecordStore. Keys iterate in byte order, which is entity
// ID order.
func (s *PebbleStore) List(ctx context.Context) ([]*model.EnrichmentRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleRecordPrefix),
		UpperBound: []byte("rec0"),
	})
	if err != nil {
		return nil, eris.Wrap(err, "pebble: list iterator")
	}
	defer iter.Close() //nolint:errcheck

	var out []*model.EnrichmentRecord
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := string(iter.Key()[len(pebbleRecordPrefix):])
		if rec := decodeOrWarn("pebble", id, iter.Value()); rec != nil {
			out = append(out, rec)
		}
	}
	return out, eris.Wrap(iter.Error(), "pebble: list iterate")
}
