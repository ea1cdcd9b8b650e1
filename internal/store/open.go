package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	// Path is the SQLite file or Pebble directory.
	Path string
	// DSN is the Postgres connection string.
	DSN  string
	Pool *PoolConfig
}

// Open creates the configured store and applies its migration.
func Open(ctx context.Context, cfg Config) (RecordStore, error) {
	var (
		st  RecordStore
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, eris.New("store: sqlite path is required")
		}
		st, err = NewSQLite(cfg.Path)
	case DriverPebble:
		if cfg.Path == "" {
			return nil, eris.New("store: pebble path is required")
		}
		st, err = NewPebble(cfg.Path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, eris.New("store: postgres dsn is required")
		}
		st, err = NewPostgres(ctx, cfg.DSN, cfg.Pool)
	case DriverMemory:
		st = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// Copy writes every readable record from src into dst, in bulk when dst
// supports it. It returns the number of records written.
func Copy(ctx context.Context, src, dst RecordStore) (int64, error) {
	recs, err := src.List(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: copy list")
	}
	if bw, ok := dst.(BulkWriter); ok {
		return bw.UpsertMany(ctx, recs)
	}
	var n int64
	for _, rec := range recs {
		if err := dst.Upsert(ctx, rec.EntityID, rec); err != nil {
			return n, eris.Wrap(err, "store: copy upsert")
		}
		n++
	}
	return n, nil
}
