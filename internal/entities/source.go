// Package entities loads the read-only list of entities to enrich.
package entities

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrSourceUnavailable is returned when the entity source cannot be read. It
// is fatal for a run.
var ErrSourceUnavailable = eris.New("entity source unavailable")

// Source yields the ordered entity list.
type Source interface {
	LoadAll(ctx context.Context) ([]model.Entity, error)
}

// Open returns a Source for path, chosen by file extension.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return NewCSVSource(path), nil
	case ".json":
		return NewJSONSource(path), nil
	case "":
		return nil, eris.Wrap(ErrSourceUnavailable, "entities: no path configured")
	default:
		return nil, eris.Wrapf(ErrSourceUnavailable, "entities: unsupported file type %q", filepath.Ext(path))
	}
}

// unavailable wraps cause so that errors.Is matches ErrSourceUnavailable
// while keeping the underlying message.
func unavailable(cause error, format string, args ...any) error {
	return eris.Wrapf(ErrSourceUnavailable, format+": %v", append(args, cause)...)
}

// dedupe normalizes entities, rejects empty IDs, and keeps the first
// occurrence of each ID.
func dedupe(in []model.Entity, origin string) ([]model.Entity, error) {
	seen := make(map[string]int, len(in))
	out := make([]model.Entity, 0, len(in))
	for i, e := range in {
		e = e.Normalize()
		if e.ID == "" {
			return nil, eris.Wrapf(ErrSourceUnavailable, "entities: %s row %d has no id", origin, i+1)
		}
		if first, dup := seen[e.ID]; dup {
			zap.L().Warn("entities: duplicate id, keeping first",
				zap.String("id", e.ID),
				zap.Int("first_row", first),
				zap.Int("row", i+1),
			)
			continue
		}
		seen[e.ID] = i + 1
		out = append(out, e)
	}
	return out, nil
}
