package entities

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sells-group/enrich-cli/internal/model"
)

// CSVSource reads entities from a CSV file whose header names the columns
// id, name, website, location and group. Extra columns are ignored.
type CSVSource struct {
	path string
}

// NewCSVSource returns a CSV-backed Source.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// LoadAll implements Source.
func (s *CSVSource) LoadAll(ctx context.Context) ([]model.Entity, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, unavailable(err, "entities: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	rows, err := decodeCSV(ctx, f)
	if err != nil {
		return nil, unavailable(err, "entities: read %s", s.path)
	}
	return dedupe(rows, s.path)
}

func decodeCSV(ctx context.Context, r io.Reader) ([]model.Entity, error) {
	// Spreadsheet exports often lead with a UTF-8 byte order mark.
	r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("empty file")
		}
		return nil, eris.Wrap(err, "header")
	}
	if !hasColumn(dec.Header(), "id") {
		return nil, eris.New("header has no id column")
	}

	var out []model.Entity
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e model.Entity
		if err := dec.Decode(&e); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "row %d", len(out)+1)
		}
		out = append(out, e)
	}
	return out, nil
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}
