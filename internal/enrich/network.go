package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
)

const (
	// DefaultNetworkMinCoverage is the index coverage the network phase
	// refuses to run below.
	DefaultNetworkMinCoverage = 0.8
	// DefaultNetworkRadiusKM bounds the co-location neighbourhood.
	DefaultNetworkRadiusKM = 25.0
	// maxNetworkNeighbors caps the neighbour list kept in the payload.
	maxNetworkNeighbors = 10
)

// NetworkPayload is the relationship-graph phase payload.
type NetworkPayload struct {
	Located   bool               `json:"located"`
	RadiusKM  float64            `json:"radius_km"`
	Neighbors int                `json:"neighbors"`
	SameGroup int                `json:"same_group"`
	Groups    map[string]int     `json:"groups,omitempty"`
	Closest   []density.Neighbor `json:"closest,omitempty"`
	Coverage  float64            `json:"coverage"`
}

// NetworkEnricher derives co-location relationships from the coordinate
// index. Its output is only meaningful when most of the population is
// geocoded, so it declares a strict coverage requirement.
type NetworkEnricher struct {
	minCoverage float64
	radiusKM    float64
}

// NewNetworkEnricher creates a network enricher. Non-positive arguments use
// the defaults.
func NewNetworkEnricher(minCoverage, radiusKM float64) *NetworkEnricher {
	if minCoverage <= 0 {
		minCoverage = DefaultNetworkMinCoverage
	}
	if radiusKM <= 0 {
		radiusKM = DefaultNetworkRadiusKM
	}
	return &NetworkEnricher{minCoverage: minCoverage, radiusKM: radiusKM}
}

// Phase implements Enricher.
func (n *NetworkEnricher) Phase() model.Phase { return model.PhaseNetwork }

// IndexRequirement implements IndexUser.
func (n *NetworkEnricher) IndexRequirement() IndexRequirement {
	return IndexRequirement{MinCoverage: n.minCoverage, Strict: true}
}

// Enrich implements Enricher. An entity whose location did not resolve
// completes with Located=false.
func (n *NetworkEnricher) Enrich(_ context.Context, e model.Entity, ec Context) (any, error) {
	if ec.Index == nil {
		return nil, eris.New("network: coordinate index unavailable")
	}
	out := NetworkPayload{RadiusKM: n.radiusKM, Coverage: ec.Index.Coverage()}

	pt, ok := ec.Index.Point(e.ID)
	if !ok {
		var geo GeoPayload
		if found, err := ec.Record.DecodePayload(model.PhaseGeo, &geo); err == nil && found && geo.Point() != nil {
			pt, ok = *geo.Point(), true
		}
	}
	if !ok {
		return out, nil
	}
	out.Located = true

	near := ec.Index.Within(e.ID, pt, n.radiusKM)
	out.Neighbors = len(near)
	if len(near) > 0 {
		out.Groups = make(map[string]int)
	}
	for _, nb := range near {
		group := nb.Group
		if group == "" {
			group = "unknown"
		}
		out.Groups[group]++
		if e.Group != "" && nb.Group == e.Group {
			out.SameGroup++
		}
	}
	if len(near) > maxNetworkNeighbors {
		near = near[:maxNetworkNeighbors]
	}
	out.Closest = near
	return out, nil
}
