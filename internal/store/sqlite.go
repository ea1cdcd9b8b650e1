package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements RecordStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN turns a file path into a URI DSN carrying the connection pragmas.
func sqliteDSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

// NewSQLite opens a SQLite database at the given path in WAL mode. Every
// connection waits up to 5s on a locked database instead of failing.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_records (
	entity_id  TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichment_records_updated_at ON enrichment_records(updated_at);
`

// Migrate implements RecordStore.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements RecordStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements RecordStore.
func (s *SQLiteStore) Get(ctx context.Context, entityID string) (*model.EnrichmentRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM enrichment_records WHERE entity_id = ?`, entityID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", entityID)
	}
	return decodeOrWarn("sqlite", entityID, []byte(data)), nil
}

// Upsert implements RecordStore.
func (s *SQLiteStore) Upsert(ctx context.Context, entityID string, rec *model.EnrichmentRecord) error {
	data, err := EncodeRecord(entityID, rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrichment_records (entity_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at`,
		entityID, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert %s", entityID)
}

// List implements RecordStore.
func (s *SQLiteStore) List(ctx context.Context) ([]*model.EnrichmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id, record FROM enrichment_records ORDER BY entity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.EnrichmentRecord
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if rec := decodeOrWarn("sqlite", id, []byte(data)); rec != nil {
			out = append(out, rec)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rows")
}
