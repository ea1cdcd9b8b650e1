package entities

import (
	"context"
	"encoding/json"
	"os"

	"github.com/sells-group/enrich-cli/internal/model"
)

// JSONSource reads entities from a file holding a JSON array.
type JSONSource struct {
	path string
}

// NewJSONSource returns a JSON-backed Source.
func NewJSONSource(path string) *JSONSource {
	return &JSONSource{path: path}
}

// LoadAll implements Source.
func (s *JSONSource) LoadAll(ctx context.Context) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, unavailable(err, "entities: read %s", s.path)
	}
	var rows []model.Entity
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, unavailable(err, "entities: parse %s", s.path)
	}
	return dedupe(rows, s.path)
}

// Static is a Source over a fixed slice.
type Static []model.Entity

// LoadAll implements Source.
func (s Static) LoadAll(context.Context) ([]model.Entity, error) {
	return dedupe(s, "static")
}
