package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

// DefaultPhotonURL is the public Komoot Photon endpoint.
const DefaultPhotonURL = "https://photon.komoot.io"

type photonResponse struct {
	Features []struct {
		Geometry struct {
			// GeoJSON order: [lon, lat].
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Name    string `json:"name"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"properties"`
	} `json:"features"`
}

// PhotonSource is the secondary free geocoder.
type PhotonSource struct {
	httpClient *http.Client
	baseURL    string
}

// NewPhotonSource creates a secondary source.
func NewPhotonSource(baseURL string, httpClient *http.Client) *PhotonSource {
	if baseURL == "" {
		baseURL = DefaultPhotonURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PhotonSource{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements Source.
func (p *PhotonSource) Name() string { return SourceSecondary }

// Lookup implements Source.
func (p *PhotonSource) Lookup(ctx context.Context, query string) (*Match, error) {
	params := url.Values{
		"q":     {query},
		"limit": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: photon build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: photon request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("geocode: photon", resp.StatusCode)
	}

	var body photonResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "geocode: photon parse response")
	}
	if len(body.Features) == 0 {
		return nil, nil
	}

	f := body.Features[0]
	if len(f.Geometry.Coordinates) < 2 {
		return nil, eris.New("geocode: photon feature has no coordinates")
	}

	var parts []string
	for _, s := range []string{f.Properties.Name, f.Properties.State, f.Properties.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return &Match{
		Label:     strings.Join(parts, ", "),
		Latitude:  f.Geometry.Coordinates[1],
		Longitude: f.Geometry.Coordinates[0],
	}, nil
}
