package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

const maxSourceBytes = 1 << 20

// notFoundPayload is stored when a source has no data for an entity.
var notFoundPayload = json.RawMessage(`{"found":false}`)

// SourceEnricher adapts a JSON lookup endpoint into a phase. The payload is
// the endpoint's response body, stored as-is. It backs the patents,
// reviews, and hiring phases.
type SourceEnricher struct {
	phase   model.Phase
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewSourceEnricher creates an adapter for phase backed by the endpoint at
// baseURL. Entities are looked up with id, name, website and location
// query parameters.
func NewSourceEnricher(phase model.Phase, baseURL, apiKey string, client *http.Client) *SourceEnricher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	name := string(phase)
	retry := resilience.DefaultRetryPolicy()
	retry.OnRetry = resilience.LogRetry(name)
	return &SourceEnricher{
		phase:   phase,
		name:    name,
		baseURL: strings.TrimSpace(baseURL),
		apiKey:  apiKey,
		client:  client,
		retry:   retry,
		breaker: resilience.NewBreaker(name, resilience.BreakerConfig{ShouldTrip: resilience.IsTransient}),
	}
}

// Phase implements Enricher.
func (s *SourceEnricher) Phase() model.Phase { return s.phase }

// Enrich implements Enricher. A 404 completes with {"found":false}.
func (s *SourceEnricher) Enrich(ctx context.Context, e model.Entity, _ Context) (any, error) {
	if s.baseURL == "" {
		return nil, eris.Errorf("%s: endpoint not configured", s.name)
	}
	params := url.Values{"id": {e.ID}, "name": {e.Name}}
	if e.Website != "" {
		params.Set("website", e.Website)
	}
	if e.Location != "" {
		params.Set("location", e.Location)
	}
	sep := "?"
	if strings.Contains(s.baseURL, "?") {
		sep = "&"
	}
	target := s.baseURL + sep + params.Encode()

	return resilience.RetryVal(ctx, s.retry, func(ctx context.Context) (json.RawMessage, error) {
		return resilience.BreakerVal(ctx, s.breaker, func(ctx context.Context) (json.RawMessage, error) {
			return s.fetch(ctx, target)
		})
	})
}

func (s *SourceEnricher) fetch(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", s.name)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: request", s.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return notFoundPayload, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError(s.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read body", s.name)
	}
	if len(body) > maxSourceBytes {
		return nil, eris.Errorf("%s: response exceeds %d bytes", s.name, maxSourceBytes)
	}
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 || !json.Valid(body) {
		return nil, eris.Errorf("%s: response is not json", s.name)
	}
	return json.RawMessage(body), nil
}
