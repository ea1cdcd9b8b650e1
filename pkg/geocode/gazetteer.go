package geocode

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Place is a gazetteer entry.
type Place struct {
	Label     string  `yaml:"label"`
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lng"`
	TimeZone  string  `yaml:"tz"`
}

// defaultPlaces covers the metro areas most entities cluster in. Keys are
// normalized lookup keys.
var defaultPlaces = map[string]Place{
	"san francisco":  {"San Francisco, CA, USA", 37.7749, -122.4194, "America/Los_Angeles"},
	"sf":             {"San Francisco, CA, USA", 37.7749, -122.4194, "America/Los_Angeles"},
	"bay area":       {"San Francisco Bay Area, CA, USA", 37.7749, -122.4194, "America/Los_Angeles"},
	"oakland":        {"Oakland, CA, USA", 37.8044, -122.2712, "America/Los_Angeles"},
	"palo alto":      {"Palo Alto, CA, USA", 37.4419, -122.1430, "America/Los_Angeles"},
	"mountain view":  {"Mountain View, CA, USA", 37.3861, -122.0839, "America/Los_Angeles"},
	"san jose":       {"San Jose, CA, USA", 37.3382, -121.8863, "America/Los_Angeles"},
	"los angeles":    {"Los Angeles, CA, USA", 34.0522, -118.2437, "America/Los_Angeles"},
	"la":             {"Los Angeles, CA, USA", 34.0522, -118.2437, "America/Los_Angeles"},
	"san diego":      {"San Diego, CA, USA", 32.7157, -117.1611, "America/Los_Angeles"},
	"seattle":        {"Seattle, WA, USA", 47.6062, -122.3321, "America/Los_Angeles"},
	"portland":       {"Portland, OR, USA", 45.5152, -122.6784, "America/Los_Angeles"},
	"new york":       {"New York, NY, USA", 40.7128, -74.0060, "America/New_York"},
	"new york city":  {"New York, NY, USA", 40.7128, -74.0060, "America/New_York"},
	"nyc":            {"New York, NY, USA", 40.7128, -74.0060, "America/New_York"},
	"brooklyn":       {"Brooklyn, NY, USA", 40.6782, -73.9442, "America/New_York"},
	"boston":         {"Boston, MA, USA", 42.3601, -71.0589, "America/New_York"},
	"cambridge":      {"Cambridge, MA, USA", 42.3736, -71.1097, "America/New_York"},
	"washington":     {"Washington, DC, USA", 38.9072, -77.0369, "America/New_York"},
	"washington dc":  {"Washington, DC, USA", 38.9072, -77.0369, "America/New_York"},
	"philadelphia":   {"Philadelphia, PA, USA", 39.9526, -75.1652, "America/New_York"},
	"miami":          {"Miami, FL, USA", 25.7617, -80.1918, "America/New_York"},
	"atlanta":        {"Atlanta, GA, USA", 33.7490, -84.3880, "America/New_York"},
	"chicago":        {"Chicago, IL, USA", 41.8781, -87.6298, "America/Chicago"},
	"austin":         {"Austin, TX, USA", 30.2672, -97.7431, "America/Chicago"},
	"dallas":         {"Dallas, TX, USA", 32.7767, -96.7970, "America/Chicago"},
	"houston":        {"Houston, TX, USA", 29.7604, -95.3698, "America/Chicago"},
	"denver":         {"Denver, CO, USA", 39.7392, -104.9903, "America/Denver"},
	"boulder":        {"Boulder, CO, USA", 40.0150, -105.2705, "America/Denver"},
	"salt lake city": {"Salt Lake City, UT, USA", 40.7608, -111.8910, "America/Denver"},
	"toronto":        {"Toronto, ON, Canada", 43.6532, -79.3832, "America/Toronto"},
	"vancouver":      {"Vancouver, BC, Canada", 49.2827, -123.1207, "America/Vancouver"},
	"montreal":       {"Montreal, QC, Canada", 45.5017, -73.5673, "America/Toronto"},
	"london":         {"London, United Kingdom", 51.5074, -0.1278, "Europe/London"},
	"berlin":         {"Berlin, Germany", 52.5200, 13.4050, "Europe/Berlin"},
	"paris":          {"Paris, France", 48.8566, 2.3522, "Europe/Paris"},
	"amsterdam":      {"Amsterdam, Netherlands", 52.3676, 4.9041, "Europe/Amsterdam"},
	"dublin":         {"Dublin, Ireland", 53.3498, -6.2603, "Europe/Dublin"},
	"stockholm":      {"Stockholm, Sweden", 59.3293, 18.0686, "Europe/Stockholm"},
	"zurich":         {"Zurich, Switzerland", 47.3769, 8.5417, "Europe/Zurich"},
	"tel aviv":       {"Tel Aviv, Israel", 32.0853, 34.7818, "Asia/Jerusalem"},
	"bangalore":      {"Bengaluru, India", 12.9716, 77.5946, "Asia/Kolkata"},
	"bengaluru":      {"Bengaluru, India", 12.9716, 77.5946, "Asia/Kolkata"},
	"singapore":      {"Singapore", 1.3521, 103.8198, "Asia/Singapore"},
	"tokyo":          {"Tokyo, Japan", 35.6762, 139.6503, "Asia/Tokyo"},
	"sydney":         {"Sydney, Australia", -33.8688, 151.2093, "Australia/Sydney"},
	"sao paulo":      {"Sao Paulo, Brazil", -23.5505, -46.6333, "America/Sao_Paulo"},
}

// Gazetteer is an in-memory table of well-known locations. It is a Source
// that never makes a network call.
type Gazetteer struct {
	places map[string]Place
}

// NewGazetteer returns the built-in table plus any extra entries. Extra keys
// are normalized before insertion.
func NewGazetteer(extra map[string]Place) *Gazetteer {
	places := make(map[string]Place, len(defaultPlaces)+len(extra))
	for k, v := range defaultPlaces {
		places[k] = v
	}
	for k, v := range extra {
		if key := Normalize(k); key != "" {
			places[key] = v
		}
	}
	return &Gazetteer{places: places}
}

// Name implements Source.
func (g *Gazetteer) Name() string { return SourceStatic }

// Lookup implements Source.
func (g *Gazetteer) Lookup(_ context.Context, query string) (*Match, error) {
	p, ok := g.places[strings.TrimSpace(query)]
	if !ok {
		return nil, nil
	}
	return &Match{Label: p.Label, Latitude: p.Latitude, Longitude: p.Longitude, TimeZone: p.TimeZone}, nil
}

// Len returns the number of entries.
func (g *Gazetteer) Len() int { return len(g.places) }

// LoadPlaces reads extra gazetteer entries from a YAML file mapping lookup
// keys to places:
//
//	austin:
//	  label: Austin, TX, USA
//	  lat: 30.2672
//	  lng: -97.7431
//	  tz: America/Chicago
func LoadPlaces(path string) (map[string]Place, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read gazetteer file")
	}
	var places map[string]Place
	if err := yaml.Unmarshal(data, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: parse gazetteer file")
	}
	for key, p := range places {
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return nil, eris.Errorf("geocode: gazetteer entry %q has invalid coordinates", key)
		}
		if p.Label == "" {
			p.Label = key
			places[key] = p
		}
	}
	return places, nil
}
