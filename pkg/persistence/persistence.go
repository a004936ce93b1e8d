// Package persistence provides the storage abstraction for actions, analyses and their model graphs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/montracker/pkg/models"
)

// Persistence is the root of a storage backend.
type Persistence interface {
	Catalog() Catalog
	ActionRepository() ActionRepository
	AnalysisRepository() AnalysisRepository
	ModelRepository() ModelRepository

	// WithinAnalysis runs fn as one atomic unit of work on the analysis. Units of
	// work on the same analysis never interleave. Returning an error from fn
	// discards every change made through tx.
	WithinAnalysis(ctx context.Context, analysisID int64, fn func(ctx context.Context, tx Tx) error) error

	// CreateAnalysis inserts the analysis and runs fn on it in the same unit of
	// work. An error from fn discards the analysis too.
	CreateAnalysis(ctx context.Context, analysis *models.Analysis, fn func(ctx context.Context, tx Tx) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Catalog exposes the reference data consumed by the core.
type Catalog interface {
	ModelTypes(ctx context.Context) ([]*models.ModelType, error)
	PersonTypes(ctx context.Context) ([]*models.PersonType, error)
	SaveModelType(ctx context.Context, modelType *models.ModelType) error
	SavePersonType(ctx context.Context, personType *models.PersonType) error
}

// TimeRange bounds a timestamp with inclusive ends. A nil end is open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t lies in the range.
func (r TimeRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}

	if r.To != nil && t.After(*r.To) {
		return false
	}

	return true
}

// Open reports whether the range filters nothing.
func (r TimeRange) Open() bool {
	return r.From == nil && r.To == nil
}

// ListActionsOptions filters actions.
type ListActionsOptions struct {
	Statuses []models.ModelStatus
	Archived *bool
	Name     string
	Created  TimeRange
	Lost     TimeRange
}

// ListAnalysesOptions filters analyses. Lost applies to the effective lost
// time, falling back to the action's.
type ListAnalysesOptions struct {
	ActionID        int64
	Statuses        []models.ModelStatus
	Name            string
	IncludeArchived bool
	Created         TimeRange
	Lost            TimeRange
}

// ActionRepository handles actions outside of analysis units of work.
type ActionRepository interface {
	Create(ctx context.Context, action *models.Action) error
	Update(ctx context.Context, action *models.Action) error
	GetByID(ctx context.Context, id int64) (*models.Action, error)
	// List filters on the derived status without loading the analyses.
	List(ctx context.Context, opts ListActionsOptions) ([]*models.Action, error)
	// Delete soft deletes the action and all of its analyses.
	Delete(ctx context.Context, id int64) error
	// StatusCounts returns the derived statuses of the action analyses.
	StatusCounts(ctx context.Context, id int64) (models.StatusCounts, error)
}

// AnalysisRepository handles analyses outside of units of work.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	Update(ctx context.Context, analysis *models.Analysis) error
	GetByID(ctx context.Context, id int64) (*models.Analysis, error)
	// List returns non-deleted analyses of non-archived actions unless
	// IncludeArchived is set.
	List(ctx context.Context, opts ListAnalysesOptions) ([]*models.Analysis, error)
	Delete(ctx context.Context, id int64) error
	// StatusCounts returns the status counts of the analysis models.
	StatusCounts(ctx context.Context, id int64) (models.StatusCounts, error)
}

// ModelRepository reads committed model state.
type ModelRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Model, error)
	// InFlight returns models with an in-flight status whose analysis and
	// action are not deleted.
	InFlight(ctx context.Context) ([]*models.Model, error)
	ByAnalysis(ctx context.Context, analysisID int64) ([]*models.Model, error)
	Weights(ctx context.Context, analysisID int64) ([]*models.ModelWeight, error)
	Profiles(ctx context.Context, analysisID int64) ([]*models.Profile, error)
	Layers(ctx context.Context, modelID int64) ([]*models.Layer, error)
}

// GraphWriter holds the primitive weight graph mutations.
type GraphWriter interface {
	CreateModel(ctx context.Context, model *models.Model) error
	DeleteModel(ctx context.Context, id int64) error
	CreateWeight(ctx context.Context, weight *models.ModelWeight) error
	UpdateWeight(ctx context.Context, weight *models.ModelWeight) error
	DeleteWeight(ctx context.Context, id int64) error
}

// Tx is a unit of work scoped to one locked analysis.
type Tx interface {
	GraphWriter

	Analysis(ctx context.Context) (*models.Analysis, error)
	// UpdateAnalysis stores the editable fields of the locked analysis.
	UpdateAnalysis(ctx context.Context, analysis *models.Analysis) error
	Action(ctx context.Context) (*models.Action, error)
	Models(ctx context.Context) ([]*models.Model, error)
	Weights(ctx context.Context) ([]*models.ModelWeight, error)
	Profiles(ctx context.Context) ([]*models.Profile, error)
	Layers(ctx context.Context, modelID int64) ([]*models.Layer, error)

	UpdateModel(ctx context.Context, model *models.Model) error
	CreateLayer(ctx context.Context, layer *models.Layer) error
	SaveProfile(ctx context.Context, profile *models.Profile) error
	DeleteProfile(ctx context.Context, id int64) error

	// CreateAnalysis inserts a new analysis committed together with the unit of work.
	CreateAnalysis(ctx context.Context, analysis *models.Analysis) error
}
