package models

import "strings"

// ModelType is a catalog entry. Complexity is permanent per type.
type ModelType struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"    validate:"required"`
	Complex bool   `json:"complex"`
	Active  bool   `json:"active"`
}

// PersonType is a catalog entry describing a lost-person category.
type PersonType struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"   validate:"required"`
	Active bool   `json:"active"`
}

// Model is one probability computation unit attached to an analysis.
type Model struct {
	ID          int64       `json:"id"`
	AnalysisID  int64       `json:"analysis_id"`
	ModelTypeID int64       `json:"model_type_id"`
	Status      ModelStatus `json:"status"`
	ResultID    string      `json:"result_id,omitempty"`
}

// RemoteID returns the trimmed remote result identifier.
func (m *Model) RemoteID() string {
	return strings.TrimSpace(m.ResultID)
}

// ModelWeight is a weighted edge owned by a simple model. Target equal to the
// owner is the model's standalone weight, otherwise the target is a complex
// model the owner contributes to.
type ModelWeight struct {
	ID       int64 `json:"id"`
	OwnerID  int64 `json:"model_id"`
	TargetID int64 `json:"child_model_id"`
	Weight   int   `json:"weight"`
}

// Standalone reports whether the edge is the owner's own weight.
func (w *ModelWeight) Standalone() bool {
	return w.OwnerID == w.TargetID
}

// Profile is a weighted person type describing the modeled population mix.
type Profile struct {
	ID           int64 `json:"id"`
	AnalysisID   int64 `json:"analysis_id"`
	PersonTypeID int64 `json:"person_type_id"`
	Weight       int   `json:"weight"`
}

// Layer references a map artifact produced when a model finishes.
type Layer struct {
	ID       int64  `json:"id"`
	ModelID  int64  `json:"model_id"`
	LayersID string `json:"layers_id"`
}
