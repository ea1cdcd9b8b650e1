package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleSource is the metered primary source backed by the Google Geocoding
// API.
type GoogleSource struct {
	httpClient *http.Client
	apiKey     string
	limiter    *rate.Limiter
}

// NewGoogleSource creates a primary source. qps bounds request rate; a
// non-positive value means unlimited.
func NewGoogleSource(apiKey string, qps float64, httpClient *http.Client) *GoogleSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if qps > 0 {
		lim = rate.NewLimiter(rate.Limit(qps), 1)
	}
	return &GoogleSource{httpClient: httpClient, apiKey: apiKey, limiter: lim}
}

// Name implements Source.
func (g *GoogleSource) Name() string { return SourcePrimary }

// Lookup implements Source.
func (g *GoogleSource) Lookup(ctx context.Context, query string) (*Match, error) {
	resp, err := g.call(ctx, query)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.Errorf("geocode: google status %s", resp.Status), 0)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", resp.Status, resp.ErrorMessage)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	r := resp.Results[0]
	return &Match{
		Label:     r.FormattedAddress,
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
	}, nil
}

// Ping checks that the key is accepted. A ZERO_RESULTS answer counts as
// reachable.
func (g *GoogleSource) Ping(ctx context.Context) error {
	resp, err := g.call(ctx, "san francisco")
	if err != nil {
		return err
	}
	if resp.Status != "OK" && resp.Status != "ZERO_RESULTS" {
		return eris.Errorf("geocode: google ping status %s", resp.Status)
	}
	return nil
}

func (g *GoogleSource) call(ctx context.Context, query string) (*googleGeocodeResponse, error) {
	if g.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {query},
		"key":     {g.apiKey},
	}

	reqURL := googleGeocodeURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("geocode: google", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	return &googleResp, nil
}
