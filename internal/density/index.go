package density

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"
)

const (
	// indexResolution is the H3 resolution used for bucketing. Res-3 cells
	// have an inradius of roughly 50 km.
	indexResolution = 3
	// diskK is the ring radius scanned around a target's cell.
	diskK = 2
	// localRadiusKM is a conservative lower bound on the distance from any
	// point in a cell to the outside of its k=2 disk at res 3. Answers within
	// this radius are exact from the local scan alone.
	localRadiusKM = 100.0
)

// Index buckets resolved coordinates by H3 cell so that a density query only
// scans nearby cells. It is immutable once built and safe for concurrent use.
type Index struct {
	population int
	points     map[string]Candidate
	order      []Candidate
	cells      map[h3.Cell][]Candidate
	stray      []Candidate
}

// NewIndex builds an index over candidates. population is the total number
// of entities the candidates were drawn from, used for Coverage. Candidates
// without a point are counted as unresolved. Duplicate IDs keep the first.
func NewIndex(population int, candidates []Candidate) *Index {
	idx := &Index{
		population: population,
		points:     make(map[string]Candidate, len(candidates)),
		cells:      make(map[h3.Cell][]Candidate),
	}
	for _, c := range candidates {
		if c.Point == nil {
			continue
		}
		if _, dup := idx.points[c.ID]; dup {
			continue
		}
		idx.points[c.ID] = c
		idx.order = append(idx.order, c)

		cell, err := cellOf(*c.Point)
		if err != nil {
			zap.L().Debug("density: point outside h3 grid", zap.String("id", c.ID), zap.Error(err))
			idx.stray = append(idx.stray, c)
			continue
		}
		idx.cells[cell] = append(idx.cells[cell], c)
	}
	if idx.population < len(idx.order) {
		idx.population = len(idx.order)
	}
	return idx
}

func cellOf(p Point) (h3.Cell, error) {
	if !p.Valid() {
		return 0, eris.Errorf("density: invalid point %v", p)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), indexResolution)
	if err != nil {
		return 0, eris.Wrap(err, "density: h3 cell")
	}
	return cell, nil
}

// Len returns the number of resolved entities.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.order)
}

// Population returns the total entity count the index was built against.
func (idx *Index) Population() int {
	if idx == nil {
		return 0
	}
	return idx.population
}

// Coverage is the resolved fraction of the population in [0, 1].
func (idx *Index) Coverage() float64 {
	if idx == nil || idx.population == 0 {
		return 0
	}
	return float64(len(idx.order)) / float64(idx.population)
}

// Point returns the indexed coordinate for id.
func (idx *Index) Point(id string) (Point, bool) {
	if idx == nil {
		return Point{}, false
	}
	c, ok := idx.points[id]
	if !ok {
		return Point{}, false
	}
	return *c.Point, true
}

// Group returns the group tag indexed for id.
func (idx *Index) Group(id string) string {
	if idx == nil {
		return ""
	}
	return idx.points[id].Group
}

// Density computes the report for target against every indexed entity other
// than self. Band counts come from the local disk; the nearest list falls
// back to a full scan when the local disk cannot prove it complete.
func (idx *Index) Density(self string, target Point) Report {
	if idx == nil {
		return ComputeDensity(target, nil)
	}
	local, ok := idx.local(target)
	if !ok {
		return ComputeDensity(target, idx.without(self, idx.order))
	}

	rep := ComputeDensity(target, idx.without(self, local))
	if len(rep.Nearest) == MaxNearest && rep.Nearest[MaxNearest-1].DistanceKM <= localRadiusKM {
		return rep
	}
	if len(rep.Nearest) < MaxNearest && len(rep.Nearest) == idx.countOthers(self) {
		return rep
	}
	full := ComputeDensity(target, idx.without(self, idx.order))
	full.Within = rep.Within
	return full
}

// Within returns every indexed entity other than self within radiusKM of
// target, nearest first.
func (idx *Index) Within(self string, target Point, radiusKM float64) []Neighbor {
	if idx == nil {
		return nil
	}
	pool := idx.order
	if radiusKM <= localRadiusKM {
		if local, ok := idx.local(target); ok {
			pool = local
		}
	}

	var out []Neighbor
	for _, c := range pool {
		if c.ID == self {
			continue
		}
		if d := Haversine(target, *c.Point); d <= radiusKM {
			out = append(out, Neighbor{ID: c.ID, Group: c.Group, DistanceKM: d})
		}
	}
	sortNeighbors(out)
	return out
}

// local gathers candidates from the k-disk around target plus strays.
func (idx *Index) local(target Point) ([]Candidate, bool) {
	cell, err := cellOf(target)
	if err != nil {
		return nil, false
	}
	disk, err := cell.GridDisk(diskK)
	if err != nil {
		// Pentagon distortion; the caller scans everything instead.
		return nil, false
	}
	out := append([]Candidate(nil), idx.stray...)
	for _, c := range disk {
		out = append(out, idx.cells[c]...)
	}
	return out, true
}

func (idx *Index) without(self string, in []Candidate) []Candidate {
	if self == "" {
		return in
	}
	if _, ok := idx.points[self]; !ok {
		return in
	}
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if c.ID != self {
			out = append(out, c)
		}
	}
	return out
}

func (idx *Index) countOthers(self string) int {
	if _, ok := idx.points[self]; ok {
		return len(idx.order) - 1
	}
	return len(idx.order)
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool { return closer(ns[i], ns[j]) })
}
