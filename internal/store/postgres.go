package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/db"
	"github.com/sells-group/enrich-cli/internal/model"
)

// PostgresStore implements RecordStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	recordsTable = "enrichment_records"

	pgGetRecord = `SELECT record FROM enrichment_records WHERE entity_id = $1`
	pgUpsert    = `INSERT INTO enrichment_records (entity_id, record, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (entity_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`
	pgList = `SELECT entity_id, record FROM enrichment_records ORDER BY entity_id`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_record":    pgGetRecord,
	"upsert_record": pgUpsert,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_records (
	entity_id  TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_records_updated_at ON enrichment_records(updated_at);
`

// Migrate implements RecordStore.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements RecordStore.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Get implements RecordStore.
func (s *PostgresStore) Get(ctx context.Context, entityID string) (*model.EnrichmentRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, pgGetRecord, entityID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", entityID)
	}
	return decodeOrWarn("postgres", entityID, data), nil
}

// Upsert implements RecordStore.
func (s *PostgresStore) Upsert(ctx context.Context, entityID string, rec *model.EnrichmentRecord) error {
	data, err := EncodeRecord(entityID, rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsert, entityID, string(data), time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert %s", entityID)
}

// List implements RecordStore.
func (s *PostgresStore) List(ctx context.Context) ([]*model.EnrichmentRecord, error) {
	rows, err := s.pool.Query(ctx, pgList)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list")
	}
	defer rows.Close()

	var out []*model.EnrichmentRecord
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if rec := decodeOrWarn("postgres", id, data); rec != nil {
			out = append(out, rec)
		}
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rows")
}

// UpsertMany implements BulkWriter with a single COPY-and-merge transaction.
func (s *PostgresStore) UpsertMany(ctx context.Context, recs []*model.EnrichmentRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		data, err := EncodeRecord(rec.EntityID, rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{rec.EntityID, string(data), now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        recordsTable,
		Columns:      []string{"entity_id", "record", "updated_at"},
		ConflictKeys: []string{"entity_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk upsert")
}
