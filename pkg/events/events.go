// Package events defines event types and structures for model lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every montracker event.
const Topic = "montracker.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ModelStatusChangedEvent EventType = "model.status.changed"
	AnalysisSubmittedEvent  EventType = "analysis.submitted"
	AnalysisDeletedEvent    EventType = "analysis.deleted"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionID   int64          `json:"action_id"`
	AnalysisID int64          `json:"analysis_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event with a fresh id and the current time.
func NewBaseEvent(eventType EventType, actionID, analysisID int64) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ActionID:   actionID,
		AnalysisID: analysisID,
	}
}

// ModelStatusChanged is emitted after a merged remote status has been committed.
type ModelStatusChanged struct {
	BaseEvent

	ModelID   int64              `json:"model_id"`
	ModelName string             `json:"model_name"`
	From      models.ModelStatus `json:"from"`
	To        models.ModelStatus `json:"to"`
	LayerIDs  []string           `json:"layer_ids,omitempty"`
}

func (e ModelStatusChanged) GetType() EventType {
	return ModelStatusChangedEvent
}

// AnalysisSubmitted is emitted after a batch has been accepted by the calculation service.
type AnalysisSubmitted struct {
	BaseEvent

	Phase  string   `json:"phase"`
	Models []string `json:"models"`
}

func (e AnalysisSubmitted) GetType() EventType {
	return AnalysisSubmittedEvent
}

// AnalysisDeleted is emitted when an analysis is removed, directly or through its action.
type AnalysisDeleted struct {
	BaseEvent

	Cancelled int `json:"cancelled"`
}

func (e AnalysisDeleted) GetType() EventType {
	return AnalysisDeletedEvent
}
