package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Phase names a single enrichment step producing one payload type.
type Phase string

const (
	PhaseWeb       Phase = "web"
	PhaseGeo       Phase = "geo"
	PhaseTechnical Phase = "technical"
	PhaseNetwork   Phase = "network"
	PhasePatents   Phase = "patents"
	PhaseReviews   Phase = "reviews"
	PhaseHiring    Phase = "hiring"
	PhaseSynthesis Phase = "synthesis"
)

// AllPhases lists every phase in canonical order. The per-entity state
// machine advances through phases in this order.
var AllPhases = []Phase{
	PhaseWeb,
	PhaseGeo,
	PhaseTechnical,
	PhaseNetwork,
	PhasePatents,
	PhaseReviews,
	PhaseHiring,
	PhaseSynthesis,
}

// phaseRequires lists the phases that must be complete for an entity before
// the keyed phase may run for it.
var phaseRequires = map[Phase][]Phase{
	PhaseNetwork:   {PhaseGeo},
	PhaseSynthesis: {PhaseWeb, PhaseGeo},
}

// ErrUnknownPhase is returned by ParsePhase for unrecognized names.
var ErrUnknownPhase = eris.New("unknown phase")

// ParsePhase converts a user-supplied name into a Phase. A few aliases are
// accepted for convenience.
func ParsePhase(s string) (Phase, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "geographic", "location":
		return PhaseGeo, nil
	case "graph":
		return PhaseNetwork, nil
	case "patent":
		return PhasePatents, nil
	case "review":
		return PhaseReviews, nil
	case "tech", "code":
		return PhaseTechnical, nil
	}
	for _, p := range AllPhases {
		if string(p) == name {
			return p, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownPhase, "%q", s)
}

// Requires returns the prerequisite phases for p.
func (p Phase) Requires() []Phase {
	return phaseRequires[p]
}

// Index returns the position of p in AllPhases, or -1.
func (p Phase) Index() int {
	for i, q := range AllPhases {
		if q == p {
			return i
		}
	}
	return -1
}

func (p Phase) String() string { return string(p) }
