// Package density computes how many other entities sit near a coordinate and
// which ones are closest.
package density

import (
	"math"
	"sort"
)

// earthRadiusKM is the mean Earth radius.
const earthRadiusKM = 6371.0

// MaxNearest caps the nearest-neighbour list.
const MaxNearest = 20

// Bands are the cumulative radius thresholds in kilometres.
var Bands = []int{1, 5, 10, 25, 50}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within coordinate bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// Candidate is an entity considered for density. A nil Point means the
// entity has no resolved coordinate and is skipped.
type Candidate struct {
	ID    string
	Group string
	Point *Point
}

// Neighbor is one entry of the nearest list.
type Neighbor struct {
	ID         string  `json:"id"`
	Group      string  `json:"group,omitempty"`
	DistanceKM float64 `json:"distance_km"`
}

// Report is the density of one coordinate against a reference set.
type Report struct {
	// Within maps each band in Bands to the count of candidates at or inside
	// that radius.
	Within  map[int]int `json:"within"`
	Nearest []Neighbor  `json:"nearest"`
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKM * c
}

// ComputeDensity counts candidates per band and collects the nearest
// MaxNearest of them. It runs in O(n).
func ComputeDensity(target Point, candidates []Candidate) Report {
	acc := newAccumulator(target)
	for _, c := range candidates {
		acc.add(c)
	}
	return acc.report()
}

type accumulator struct {
	target  Point
	within  map[int]int
	nearest []Neighbor
}

func newAccumulator(target Point) *accumulator {
	within := make(map[int]int, len(Bands))
	for _, b := range Bands {
		within[b] = 0
	}
	return &accumulator{target: target, within: within, nearest: make([]Neighbor, 0, MaxNearest+1)}
}

func (a *accumulator) add(c Candidate) {
	if c.Point == nil {
		return
	}
	d := Haversine(a.target, *c.Point)
	for _, b := range Bands {
		if float64(b) >= d {
			a.within[b]++
		}
	}
	a.insert(Neighbor{ID: c.ID, Group: c.Group, DistanceKM: d})
}

// insert keeps nearest sorted and bounded; each insert is O(MaxNearest).
func (a *accumulator) insert(n Neighbor) {
	if len(a.nearest) == MaxNearest && !closer(n, a.nearest[MaxNearest-1]) {
		return
	}
	i := sort.Search(len(a.nearest), func(i int) bool { return closer(n, a.nearest[i]) })
	a.nearest = append(a.nearest, Neighbor{})
	copy(a.nearest[i+1:], a.nearest[i:])
	a.nearest[i] = n
	if len(a.nearest) > MaxNearest {
		a.nearest = a.nearest[:MaxNearest]
	}
}

func (a *accumulator) report() Report {
	return Report{Within: a.within, Nearest: a.nearest}
}

// closer orders by distance, then by ID for a stable result.
func closer(x, y Neighbor) bool {
	if x.DistanceKM != y.DistanceKM {
		return x.DistanceKM < y.DistanceKM
	}
	return x.ID < y.ID
}
