package entities

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCSVSource_LoadAll(t *testing.T) {
	path := writeFile(t, "entities.csv", `id,name,website,location,group,extra
acme, Acme Corp ,https://acme.example,"San Francisco, CA",saas,x
beta,Beta Labs,,Remote,devtools,y
acme,Acme Duplicate,,,,z
`)

	src, err := Open(path)
	require.NoError(t, err)
	got, err := src.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, model.Entity{
		ID: "acme", Name: "Acme Corp", Website: "https://acme.example",
		Location: "San Francisco, CA", Group: "saas",
	}, got[0])
	assert.Equal(t, "beta", got[1].ID)
	assert.Equal(t, "Remote", got[1].Location)
}

func TestCSVSource_ColumnOrderFree(t *testing.T) {
	path := writeFile(t, "entities.csv", "group,name,id\nsaas,Acme,acme\n")

	got, err := NewCSVSource(path).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Entity{ID: "acme", Name: "Acme", Group: "saas"}, got[0])
}

func TestCSVSource_ByteOrderMark(t *testing.T) {
	path := writeFile(t, "entities.csv", "\ufeffid,name,location\nacme,Acme,\"Austin, TX\"\nbeta,Beta,\n")

	got, err := NewCSVSource(path).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "acme", got[0].ID)
	assert.Equal(t, "Austin, TX", got[0].Location)
	assert.Equal(t, "beta", got[1].ID)
}

func TestCSVSource_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"only a byte order mark", "\ufeff"},
		{"no id column", "name,website\nAcme,https://acme.example\n"},
		{"blank id", "id,name\n,Acme\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "entities.csv", tt.body)
			_, err := NewCSVSource(path).LoadAll(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSourceUnavailable))
		})
	}
}

func TestCSVSource_Missing(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv")).LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "nope.csv")
}

func TestJSONSource_LoadAll(t *testing.T) {
	path := writeFile(t, "entities.json", `[
		{"id": "acme", "name": "Acme", "location": "Berlin, Germany", "group": "saas"},
		{"id": "beta", "name": "Beta"}
	]`)

	src, err := Open(path)
	require.NoError(t, err)
	got, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Berlin, Germany", got[0].Location)
	assert.Equal(t, "Beta", got[1].DisplayName())
}

func TestJSONSource_Malformed(t *testing.T) {
	path := writeFile(t, "entities.json", `{"id": "acme"}`)
	_, err := NewJSONSource(path).LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestOpen_UnsupportedExtension(t *testing.T) {
	_, err := Open("entities.xlsx")
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	_, err = Open("")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestStatic_PreservesOrder(t *testing.T) {
	got, err := Static{{ID: "b"}, {ID: "a"}, {ID: "b", Name: "dup"}}.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Empty(t, got[0].Name)
}
