package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// StateNotStarted is the state of an entity with no completed phase in
// canonical order.
const StateNotStarted = "not_started"

// PhaseState holds one phase's completion flag and payload.
type PhaseState struct {
	Complete    bool            `json:"complete"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// EnrichmentRecord is the persisted enrichment state of one entity.
//
// A phase's payload is present iff its completion flag is set. Records are
// treated as values: WithPhase returns a modified copy so that the caller
// only adopts the new state after it has been durably written.
type EnrichmentRecord struct {
	EntityID  string               `json:"entity_id"`
	Phases    map[Phase]PhaseState `json:"phases"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewRecord returns an empty record for the given entity.
func NewRecord(entityID string) *EnrichmentRecord {
	return &EnrichmentRecord{
		EntityID: entityID,
		Phases:   make(map[Phase]PhaseState),
	}
}

// Done reports whether phase p is complete with a payload.
func (r *EnrichmentRecord) Done(p Phase) bool {
	if r == nil {
		return false
	}
	st, ok := r.Phases[p]
	return ok && st.Complete && len(st.Payload) > 0
}

// Payload returns the payload for phase p, or nil when the phase is not done.
func (r *EnrichmentRecord) Payload(p Phase) json.RawMessage {
	if !r.Done(p) {
		return nil
	}
	return r.Phases[p].Payload
}

// DecodePayload unmarshals the payload for phase p into v. It returns false
// when the phase is not done.
func (r *EnrichmentRecord) DecodePayload(p Phase, v any) (bool, error) {
	raw := r.Payload(p)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, eris.Wrapf(err, "model: decode %s payload", p)
	}
	return true, nil
}

// Clone returns a deep copy of the record.
func (r *EnrichmentRecord) Clone() *EnrichmentRecord {
	if r == nil {
		return nil
	}
	out := &EnrichmentRecord{
		EntityID:  r.EntityID,
		Phases:    make(map[Phase]PhaseState, len(r.Phases)),
		UpdatedAt: r.UpdatedAt,
	}
	for p, st := range r.Phases {
		cp := st
		if st.Payload != nil {
			cp.Payload = append(json.RawMessage(nil), st.Payload...)
		}
		out.Phases[p] = cp
	}
	return out
}

// WithPhase returns a copy of r with phase p completed by payload. The
// receiver is not modified.
func (r *EnrichmentRecord) WithPhase(p Phase, payload json.RawMessage, at time.Time) (*EnrichmentRecord, error) {
	if r == nil {
		return nil, eris.New("model: nil record")
	}
	if len(payload) == 0 {
		return nil, eris.Errorf("model: empty payload for phase %s", p)
	}
	if !json.Valid(payload) {
		return nil, eris.Errorf("model: invalid payload for phase %s", p)
	}
	out := r.Clone()
	out.Phases[p] = PhaseState{
		Complete:    true,
		Payload:     append(json.RawMessage(nil), payload...),
		CompletedAt: at.UTC(),
	}
	out.UpdatedAt = at.UTC()
	return out, nil
}

// Validate checks the flag/payload invariant for every phase.
func (r *EnrichmentRecord) Validate() error {
	if r.EntityID == "" {
		return eris.New("model: record has no entity id")
	}
	for p, st := range r.Phases {
		hasPayload := len(st.Payload) > 0
		if st.Complete && !hasPayload {
			return eris.Errorf("model: phase %s complete without payload", p)
		}
		if !st.Complete && hasPayload {
			return eris.Errorf("model: phase %s has payload but is not complete", p)
		}
		if hasPayload && !json.Valid(st.Payload) {
			return eris.Errorf("model: phase %s payload is not valid json", p)
		}
	}
	return nil
}

// MissingRequirements returns the prerequisites of p that are not yet done.
func (r *EnrichmentRecord) MissingRequirements(p Phase) []Phase {
	var missing []Phase
	for _, req := range p.Requires() {
		if !r.Done(req) {
			missing = append(missing, req)
		}
	}
	return missing
}

// State reports the entity's position in the phase state machine: the
// furthest phase in canonical order whose predecessors are all complete.
func (r *EnrichmentRecord) State() string {
	state := StateNotStarted
	for _, p := range AllPhases {
		if !r.Done(p) {
			break
		}
		state = string(p) + "_done"
	}
	return state
}

// CompletedPhases returns the completed phases in canonical order.
func (r *EnrichmentRecord) CompletedPhases() []Phase {
	var out []Phase
	for _, p := range AllPhases {
		if r.Done(p) {
			out = append(out, p)
		}
	}
	return out
}
