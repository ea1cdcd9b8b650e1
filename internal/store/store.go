// Package store persists enrichment records keyed by entity ID.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrRecordCorrupt classifies a stored record that cannot be decoded or
// violates the completion invariant. Stores treat such records as absent.
var ErrRecordCorrupt = eris.New("record corrupt")

// RecordStore is keyed persistence for enrichment records. Upsert is atomic
// per key: a reader sees either the previous record or the new one.
type RecordStore interface {
	// Get returns the record for entityID, or nil when absent or corrupt.
	Get(ctx context.Context, entityID string) (*model.EnrichmentRecord, error)
	// Upsert replaces the record for entityID.
	Upsert(ctx context.Context, entityID string, rec *model.EnrichmentRecord) error
	// List returns every readable record ordered by entity ID.
	List(ctx context.Context) ([]*model.EnrichmentRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// BulkWriter is implemented by stores that can write many records in one
// transaction.
type BulkWriter interface {
	UpsertMany(ctx context.Context, recs []*model.EnrichmentRecord) (int64, error)
}

// EncodeRecord validates rec and serializes it for storage under entityID.
func EncodeRecord(entityID string, rec *model.EnrichmentRecord) ([]byte, error) {
	if rec == nil {
		return nil, eris.Errorf("store: nil record for %s", entityID)
	}
	if rec.EntityID != entityID {
		return nil, eris.Errorf("store: record for %q written under %q", rec.EntityID, entityID)
	}
	if err := rec.Validate(); err != nil {
		return nil, eris.Wrapf(err, "store: refusing to write %s", entityID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", entityID)
	}
	return data, nil
}

// DecodeRecord parses a stored record. Any failure wraps ErrRecordCorrupt.
func DecodeRecord(entityID string, data []byte) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(ErrRecordCorrupt, "store: %s: %v", entityID, err)
	}
	if rec.EntityID == "" {
		rec.EntityID = entityID
	}
	if rec.EntityID != entityID {
		return nil, eris.Wrapf(ErrRecordCorrupt, "store: %s: stored id %q", entityID, rec.EntityID)
	}
	if rec.Phases == nil {
		rec.Phases = make(map[model.Phase]model.PhaseState)
	}
	if err := rec.Validate(); err != nil {
		return nil, eris.Wrapf(ErrRecordCorrupt, "store: %s: %v", entityID, err)
	}
	return &rec, nil
}

// decodeOrWarn decodes data and logs corrupt records, returning nil for them.
func decodeOrWarn(driver, entityID string, data []byte) *model.EnrichmentRecord {
	rec, err := DecodeRecord(entityID, data)
	if err != nil {
		zap.L().Warn("store: corrupt record treated as absent",
			zap.String("driver", driver),
			zap.String("entity", entityID),
			zap.Error(err),
		)
		return nil
	}
	return rec
}
