package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/dukex/montracker/pkg/graph"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// DefaultWeight is the edge weight of a simple model created without one.
const DefaultWeight = 1

// Reconciler synchronizes the model graph and the profiles of a draft
// analysis with a desired set, and clones analyses.
type Reconciler struct {
	persistence   persistence.Persistence
	status        *Status
	defaultWeight int
	logger        *slog.Logger
}

// NewReconciler creates a reconciler. A non-positive default weight falls back to DefaultWeight.
func NewReconciler(p persistence.Persistence, status *Status, defaultWeight int, logger *slog.Logger) *Reconciler {
	if defaultWeight <= 0 {
		defaultWeight = DefaultWeight
	}

	return &Reconciler{
		persistence:   p,
		status:        status,
		defaultWeight: defaultWeight,
		logger:        logger.With("module", "reconciler"),
	}
}

// Reconcile makes the model types of the analysis equal to the keys of
// desired. A nil weight keeps the current weight of an existing simple model
// and selects the default weight for a new one. Weights of complex types are
// ignored.
func (r *Reconciler) Reconcile(ctx context.Context, analysisID int64, desired map[int64]*int) error {
	if desired == nil {
		desired = map[int64]*int{}
	}

	return r.run(ctx, analysisID, desired, nil)
}

// ReconcileProfiles makes the profiles of the analysis equal to desired,
// keyed by person type.
func (r *Reconciler) ReconcileProfiles(ctx context.Context, analysisID int64, desired map[int64]int) error {
	if desired == nil {
		desired = map[int64]int{}
	}

	return r.run(ctx, analysisID, nil, desired)
}

func (r *Reconciler) run(ctx context.Context, analysisID int64, desiredModels map[int64]*int, desiredProfiles map[int64]int) error {
	p, err := r.prepare(ctx, desiredModels, desiredProfiles)
	if err != nil {
		return err
	}

	var actionID int64

	err = r.persistence.WithinAnalysis(ctx, analysisID, func(ctx context.Context, tx persistence.Tx) error {
		analysis, err := tx.Analysis(ctx)
		if err != nil {
			return err
		}

		actionID = analysis.ActionID

		return r.applyPlan(ctx, tx, analysisID, p)
	})
	if err != nil {
		return err
	}

	r.status.Invalidate(ctx, actionID, analysisID)
	r.logger.InfoContext(ctx, "Reconciled analysis", "analysis_id", analysisID,
		"models", len(desiredModels), "profiles", len(desiredProfiles))

	return nil
}

// plan is a validated desired state. A nil map leaves that part of the
// analysis untouched.
type plan struct {
	types    []*models.ModelType
	models   map[int64]*int
	profiles map[int64]int
}

func (p *plan) empty() bool {
	return p.models == nil && p.profiles == nil
}

// prepare checks the desired models and profiles against the catalog.
func (r *Reconciler) prepare(ctx context.Context, desiredModels map[int64]*int, desiredProfiles map[int64]int) (*plan, error) {
	p := &plan{models: desiredModels, profiles: desiredProfiles}

	if desiredModels != nil {
		for typeID, weight := range desiredModels {
			if weight != nil && *weight <= 0 {
				return nil, NewValidationError("Reconcile", "INVALID_WEIGHT",
					fmt.Sprintf("model type %d has weight %d", typeID, *weight), ErrInvalidWeight)
			}
		}

		types, err := r.modelTypes(ctx, slices.Collect(maps.Keys(desiredModels)))
		if err != nil {
			return nil, err
		}

		p.types = types
	}

	if desiredProfiles != nil {
		if err := r.checkProfiles(ctx, desiredProfiles); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// applyPlan brings the locked analysis to the planned state. Both parts
// require a draft analysis.
func (r *Reconciler) applyPlan(ctx context.Context, tx persistence.Tx, analysisID int64, p *plan) error {
	if p.empty() {
		return nil
	}

	if p.models != nil {
		g, err := graph.Load(ctx, tx, p.types)
		if err != nil {
			return err
		}

		if err := requireDraft("Reconcile", g.Models()); err != nil {
			return err
		}

		if err := r.apply(ctx, g, analysisID, p.models); err != nil {
			return err
		}
	}

	if p.profiles != nil {
		modelRows, err := tx.Models(ctx)
		if err != nil {
			return err
		}

		if err := requireDraft("ReconcileProfiles", modelRows); err != nil {
			return err
		}

		if err := reconcileProfiles(ctx, tx, analysisID, p.profiles); err != nil {
			return err
		}
	}

	return nil
}

// apply runs removals, updates and creations in that order. The graph is legal
// after each phase.
func (r *Reconciler) apply(ctx context.Context, g *graph.Graph, analysisID int64, desired map[int64]*int) error {
	for _, m := range g.Models() {
		if _, keep := desired[m.ModelTypeID]; keep {
			continue
		}

		var err error
		if g.IsComplex(m) {
			err = removeComplex(ctx, g, m)
		} else {
			err = removeSimple(ctx, g, m)
		}

		if err != nil {
			return err
		}
	}

	for _, m := range g.Simple() {
		if weight := desired[m.ModelTypeID]; weight != nil {
			if err := g.SetWeight(ctx, m.ID, *weight); err != nil {
				return err
			}
		}
	}

	var simpleTypes, complexTypes []int64

	for _, typeID := range slices.Sorted(maps.Keys(desired)) {
		if _, exists := g.ByType(typeID); exists {
			continue
		}

		modelType, _ := g.KnownType(typeID)
		if modelType.Complex {
			complexTypes = append(complexTypes, typeID)
		} else {
			simpleTypes = append(simpleTypes, typeID)
		}
	}

	for _, typeID := range simpleTypes {
		weight := r.defaultWeight
		if w := desired[typeID]; w != nil {
			weight = *w
		}

		m := &models.Model{AnalysisID: analysisID, ModelTypeID: typeID, Status: models.StatusDraft}
		if err := createSimple(ctx, g, m, weight); err != nil {
			return err
		}
	}

	for _, typeID := range complexTypes {
		m := &models.Model{AnalysisID: analysisID, ModelTypeID: typeID, Status: models.StatusDraft}
		if err := createComplex(ctx, g, m); err != nil {
			return err
		}
	}

	return g.Check()
}

func removeSimple(ctx context.Context, g *graph.Graph, m *models.Model) error {
	for _, edge := range g.OwnedBy(m.ID) {
		if err := g.RemoveEdge(ctx, edge.ID); err != nil {
			return err
		}
	}

	return g.RemoveModel(ctx, m.ID)
}

// removeComplex demotes the contributions of the last complex model to
// standalone weights and drops the contributions to any other one.
func removeComplex(ctx context.Context, g *graph.Graph, m *models.Model) error {
	last := len(g.Complex()) == 1

	for _, edge := range g.Incoming(m.ID) {
		var err error
		if last {
			err = g.Retarget(ctx, edge.ID, edge.OwnerID)
		} else {
			err = g.RemoveEdge(ctx, edge.ID)
		}

		if err != nil {
			return err
		}
	}

	return g.RemoveModel(ctx, m.ID)
}

// createSimple adds a simple model feeding every complex model, or standing
// alone when there is none.
func createSimple(ctx context.Context, g *graph.Graph, m *models.Model, weight int) error {
	if err := g.AddModel(ctx, m); err != nil {
		return err
	}

	targets := g.Complex()
	if len(targets) == 0 {
		_, err := g.AddEdge(ctx, m.ID, m.ID, weight)

		return err
	}

	for _, target := range targets {
		if _, err := g.AddEdge(ctx, m.ID, target.ID, weight); err != nil {
			return err
		}
	}

	return nil
}

// createComplex adds a complex model fed by every simple model at its current
// weight. A simple model that only stood alone is re-homed onto the new model.
func createComplex(ctx context.Context, g *graph.Graph, m *models.Model) error {
	if err := g.AddModel(ctx, m); err != nil {
		return err
	}

	for _, simple := range g.Simple() {
		weight, err := g.WeightOf(simple.ID)
		if err != nil {
			return err
		}

		owned := g.OwnedBy(simple.ID)
		if len(owned) == 1 && owned[0].Standalone() {
			if err := g.Retarget(ctx, owned[0].ID, m.ID); err != nil {
				return err
			}

			continue
		}

		if _, err := g.AddEdge(ctx, simple.ID, m.ID, weight); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) checkProfiles(ctx context.Context, desired map[int64]int) error {
	personTypes, err := r.persistence.Catalog().PersonTypes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load person types: %w", err)
	}

	known := make(map[int64]bool, len(personTypes))
	for _, pt := range personTypes {
		known[pt.ID] = true
	}

	for typeID, weight := range desired {
		if !known[typeID] {
			return NewValidationError("ReconcileProfiles", "UNKNOWN_PERSON_TYPE",
				fmt.Sprintf("person type %d does not exist", typeID), ErrUnknownPersonType)
		}

		if weight <= 0 {
			return NewValidationError("ReconcileProfiles", "INVALID_WEIGHT",
				fmt.Sprintf("person type %d has weight %d", typeID, weight), ErrInvalidWeight)
		}
	}

	return nil
}

func reconcileProfiles(ctx context.Context, tx persistence.Tx, analysisID int64, desired map[int64]int) error {
	profiles, err := tx.Profiles(ctx)
	if err != nil {
		return err
	}

	existing := make(map[int64]*models.Profile, len(profiles))

	for _, profile := range profiles {
		weight, keep := desired[profile.PersonTypeID]
		if !keep {
			if err := tx.DeleteProfile(ctx, profile.ID); err != nil {
				return err
			}

			continue
		}

		existing[profile.PersonTypeID] = profile

		if profile.Weight != weight {
			profile.Weight = weight
			if err := tx.SaveProfile(ctx, profile); err != nil {
				return err
			}
		}
	}

	for _, typeID := range slices.Sorted(maps.Keys(desired)) {
		if _, ok := existing[typeID]; ok {
			continue
		}

		err := tx.SaveProfile(ctx, &models.Profile{AnalysisID: analysisID, PersonTypeID: typeID, Weight: desired[typeID]})
		if err != nil {
			return err
		}
	}

	return nil
}

// DuplicateOverrides replaces fields of the copy. Unset fields keep the
// values stored on the source analysis.
type DuplicateOverrides struct {
	ActionID     *int64
	Name         *string
	Description  *string
	IPPLatitude  *float64
	IPPLongitude *float64
	RPLatitude   *float64
	RPLongitude  *float64
	LostTime     *time.Time
}

// Duplicate copies an analysis in any status into a new one. The copy gets
// the same model types, weights and topology, the same profiles, and keeps
// each model's status, result id and layers.
func (r *Reconciler) Duplicate(ctx context.Context, sourceID int64, overrides DuplicateOverrides) (*models.Analysis, error) {
	if overrides.ActionID != nil {
		if _, err := r.persistence.ActionRepository().GetByID(ctx, *overrides.ActionID); err != nil {
			return nil, err
		}
	}

	types, err := r.modelTypes(ctx, nil)
	if err != nil {
		return nil, err
	}

	var copied *models.Analysis

	err = r.persistence.WithinAnalysis(ctx, sourceID, func(ctx context.Context, tx persistence.Tx) error {
		source, err := tx.Analysis(ctx)
		if err != nil {
			return err
		}

		copied = overrides.apply(source)
		if err := tx.CreateAnalysis(ctx, copied); err != nil {
			return err
		}

		original, err := graph.Load(ctx, tx, types)
		if err != nil {
			return err
		}

		clone, err := graph.New(tx, types, nil, nil)
		if err != nil {
			return err
		}

		for _, m := range original.Simple() {
			weight, err := original.WeightOf(m.ID)
			if err != nil {
				return err
			}

			dup := duplicateModel(m, copied.ID)
			if err := createSimple(ctx, clone, dup, weight); err != nil {
				return err
			}

			if err := copyLayers(ctx, tx, m.ID, dup.ID); err != nil {
				return err
			}
		}

		for _, m := range original.Complex() {
			dup := duplicateModel(m, copied.ID)
			if err := createComplex(ctx, clone, dup); err != nil {
				return err
			}

			if err := copyLayers(ctx, tx, m.ID, dup.ID); err != nil {
				return err
			}
		}

		profiles, err := tx.Profiles(ctx)
		if err != nil {
			return err
		}

		for _, profile := range profiles {
			err := tx.SaveProfile(ctx, &models.Profile{AnalysisID: copied.ID, PersonTypeID: profile.PersonTypeID, Weight: profile.Weight})
			if err != nil {
				return err
			}
		}

		return clone.Check()
	})
	if err != nil {
		return nil, err
	}

	r.status.Invalidate(ctx, copied.ActionID, copied.ID)
	r.logger.InfoContext(ctx, "Duplicated analysis", "source_id", sourceID, "analysis_id", copied.ID)

	return copied, nil
}

func (o DuplicateOverrides) apply(source *models.Analysis) *models.Analysis {
	dup := &models.Analysis{
		ActionID:     source.ActionID,
		Name:         source.Name,
		Description:  source.Description,
		IPPLatitude:  source.IPPLatitude,
		IPPLongitude: source.IPPLongitude,
		RPLatitude:   source.RPLatitude,
		RPLongitude:  source.RPLongitude,
		LostTime:     source.LostTime,
	}

	if o.ActionID != nil {
		dup.ActionID = *o.ActionID
	}

	if o.Name != nil {
		dup.Name = *o.Name
	}

	if o.Description != nil {
		dup.Description = *o.Description
	}

	dup.IPPLatitude = override(dup.IPPLatitude, o.IPPLatitude)
	dup.IPPLongitude = override(dup.IPPLongitude, o.IPPLongitude)
	dup.RPLatitude = override(dup.RPLatitude, o.RPLatitude)
	dup.RPLongitude = override(dup.RPLongitude, o.RPLongitude)
	dup.LostTime = override(dup.LostTime, o.LostTime)

	return dup
}

func override[T any](current, replacement *T) *T {
	if replacement != nil {
		v := *replacement

		return &v
	}

	return current
}

func duplicateModel(m *models.Model, analysisID int64) *models.Model {
	return &models.Model{
		AnalysisID:  analysisID,
		ModelTypeID: m.ModelTypeID,
		Status:      m.Status,
		ResultID:    m.ResultID,
	}
}

func copyLayers(ctx context.Context, tx persistence.Tx, fromID, toID int64) error {
	layers, err := tx.Layers(ctx, fromID)
	if err != nil {
		return err
	}

	for _, layer := range layers {
		if err := tx.CreateLayer(ctx, &models.Layer{ModelID: toID, LayersID: layer.LayersID}); err != nil {
			return err
		}
	}

	return nil
}

// modelTypes loads the catalog and checks that every requested type exists.
func (r *Reconciler) modelTypes(ctx context.Context, requested []int64) ([]*models.ModelType, error) {
	types, err := r.persistence.Catalog().ModelTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model types: %w", err)
	}

	for _, typeID := range requested {
		if !slices.ContainsFunc(types, func(t *models.ModelType) bool { return t.ID == typeID }) {
			return nil, NewValidationError("Reconcile", "UNKNOWN_MODEL_TYPE",
				fmt.Sprintf("model type %d does not exist", typeID), ErrUnknownModelType)
		}
	}

	return types, nil
}

func requireDraft(op string, modelRows []*models.Model) error {
	if status := models.Aggregate(statusesOf(modelRows)...); status != models.StatusDraft {
		return conflict(op, status)
	}

	return nil
}
