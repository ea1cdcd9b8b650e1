package model

import "strings"

// Entity is a record to be enriched. Entities are loaded once per run and
// never modified by the pipeline.
type Entity struct {
	ID       string `json:"id" csv:"id"`
	Name     string `json:"name" csv:"name"`
	Website  string `json:"website,omitempty" csv:"website,omitempty"`
	Location string `json:"location,omitempty" csv:"location,omitempty"`
	Group    string `json:"group,omitempty" csv:"group,omitempty"`
}

// DisplayName returns the name used when reporting on this entity to an
// operator, falling back to the ID.
func (e Entity) DisplayName() string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	return e.ID
}

// Normalize trims whitespace from every attribute.
func (e Entity) Normalize() Entity {
	return Entity{
		ID:       strings.TrimSpace(e.ID),
		Name:     strings.TrimSpace(e.Name),
		Website:  strings.TrimSpace(e.Website),
		Location: strings.TrimSpace(e.Location),
		Group:    strings.TrimSpace(e.Group),
	}
}
