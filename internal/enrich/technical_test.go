package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func newTechnical(t *testing.T, h http.Handler, token string) *TechnicalEnricher {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	te := NewTechnicalEnricher(ts.URL, token, 0, ts.Client())
	te.retry = fastRetry()
	return te
}

func githubMux(t *testing.T, searchHits *atomic.Int32) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/users", func(w http.ResponseWriter, r *http.Request) {
		if searchHits != nil {
			searchHits.Add(1)
		}
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		items := []map[string]string{}
		if r.URL.Query().Get("q") == "acme type:org" {
			items = append(items, map[string]string{"login": "acme-inc", "type": "Organization"})
		}
		json.NewEncoder(w).Encode(map[string]any{"total_count": len(items), "items": items}) //nolint:errcheck
	})
	mux.HandleFunc("/orgs/acme-inc/repos", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{ //nolint:errcheck
			{"name": "core", "stargazers_count": 10, "forks_count": 2, "language": "Go", "pushed_at": "2026-01-02T00:00:00Z"},
			{"name": "upstream-fork", "fork": true, "stargazers_count": 100, "language": "C"},
			{"name": "ml", "stargazers_count": 5, "forks_count": 1, "language": "Python", "pushed_at": "2026-03-01T00:00:00Z"},
			{"name": "cli", "language": "Go"},
		})
	})
	return mux
}

func TestTechnicalEnricher_Organization(t *testing.T) {
	mux := githubMux(t, nil)
	te := newTechnical(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		mux.ServeHTTP(w, r)
	}), "gh-token")

	out, err := te.Enrich(context.Background(), model.Entity{ID: "e1", Name: "Acme Corporation", Website: "https://www.acme.io"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, TechnicalPayload{
		Found:        true,
		Organization: "acme-inc",
		PublicRepos:  3,
		Stars:        15,
		Forks:        3,
		Languages:    []string{"Go", "Python"},
		LastPush:     "2026-03-01T00:00:00Z",
	}, out)
}

func TestTechnicalEnricher_NoOrganization(t *testing.T) {
	te := newTechnical(t, githubMux(t, nil), "")
	out, err := te.Enrich(context.Background(), model.Entity{ID: "e1", Name: "Globex"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, TechnicalPayload{Found: false}, out)

	out, err = te.Enrich(context.Background(), model.Entity{ID: "e2"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, TechnicalPayload{Found: false}, out)
}

func TestTechnicalEnricher_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	mux := githubMux(t, nil)
	te := newTechnical(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search/users" && hits.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	}), "")

	out, err := te.Enrich(context.Background(), model.Entity{ID: "e1", Name: "acme"}, Context{})
	require.NoError(t, err)
	assert.True(t, out.(TechnicalPayload).Found)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTechnicalEnricher_ForbiddenIsFatal(t *testing.T) {
	var hits atomic.Int32
	te := newTechnical(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}), "bad")

	_, err := te.Enrich(context.Background(), model.Entity{ID: "e1", Name: "acme"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github: unexpected status 401")
	assert.Equal(t, int32(1), hits.Load())
}

func TestOrgQuery(t *testing.T) {
	assert.Equal(t, "acme", orgQuery(model.Entity{Name: "Acme Corp", Website: "www.acme.com"}))
	assert.Equal(t, "Acme Corp", orgQuery(model.Entity{Name: " Acme Corp "}))
	assert.Equal(t, "Acme Corp", orgQuery(model.Entity{Name: "Acme Corp", Website: "localhost"}))
}
