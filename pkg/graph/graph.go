// Package graph holds the weight graph of one analysis: simple and complex models
// joined by weighted edges that are always owned by a simple model.
package graph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

var (
	// ErrInvariantViolation indicates stored edges break the graph rules. It is
	// not recoverable by the caller.
	ErrInvariantViolation = errors.New("weight graph invariant violated")

	// ErrUnknownModelType indicates a model references a type missing from the catalog.
	ErrUnknownModelType = errors.New("unknown model type")

	// ErrInvalidEdge indicates an edge that would break the graph rules.
	ErrInvalidEdge = errors.New("invalid model weight edge")
)

// Graph indexes the models and edges of one analysis by id. Both edge
// directions are resolved by lookup. Mutations write through to the writer
// before the index is updated.
type Graph struct {
	writer persistence.GraphWriter
	types  map[int64]*models.ModelType
	models map[int64]*models.Model
	edges  map[int64]*models.ModelWeight
}

// New builds a graph over existing rows.
func New(
	writer persistence.GraphWriter,
	types []*models.ModelType,
	modelRows []*models.Model,
	weightRows []*models.ModelWeight,
) (*Graph, error) {
	g := &Graph{
		writer: writer,
		types:  make(map[int64]*models.ModelType, len(types)),
		models: make(map[int64]*models.Model, len(modelRows)),
		edges:  make(map[int64]*models.ModelWeight, len(weightRows)),
	}

	for _, t := range types {
		g.types[t.ID] = t
	}

	for _, m := range modelRows {
		if _, ok := g.types[m.ModelTypeID]; !ok {
			return nil, fmt.Errorf("model %d has type %d: %w", m.ID, m.ModelTypeID, ErrUnknownModelType)
		}

		g.models[m.ID] = m
	}

	for _, w := range weightRows {
		g.edges[w.ID] = w
	}

	return g, nil
}

// Load builds the graph of the analysis locked by tx.
func Load(ctx context.Context, tx persistence.Tx, types []*models.ModelType) (*Graph, error) {
	modelRows, err := tx.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	weightRows, err := tx.Weights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model weights: %w", err)
	}

	return New(tx, types, modelRows, weightRows)
}

// Type returns the catalog type of the model.
func (g *Graph) Type(m *models.Model) *models.ModelType {
	return g.types[m.ModelTypeID]
}

// KnownType reports whether the catalog has the type.
func (g *Graph) KnownType(typeID int64) (*models.ModelType, bool) {
	t, ok := g.types[typeID]

	return t, ok
}

// Name returns the model type name, which identifies the model remotely.
func (g *Graph) Name(m *models.Model) string {
	return g.Type(m).Name
}

// IsComplex reports whether the model aggregates simple models.
func (g *Graph) IsComplex(m *models.Model) bool {
	return g.Type(m).Complex
}

// Model returns a model by id.
func (g *Graph) Model(id int64) (*models.Model, bool) {
	m, ok := g.models[id]

	return m, ok
}

// ByType returns the model of the given type.
func (g *Graph) ByType(typeID int64) (*models.Model, bool) {
	for _, m := range g.models {
		if m.ModelTypeID == typeID {
			return m, true
		}
	}

	return nil, false
}

// Models returns every model ordered by id.
func (g *Graph) Models() []*models.Model {
	return sortedByID(slices.Collect(maps.Values(g.models)), func(m *models.Model) int64 { return m.ID })
}

// Simple returns the simple models ordered by id.
func (g *Graph) Simple() []*models.Model {
	return g.filter(func(m *models.Model) bool { return !g.IsComplex(m) })
}

// Complex returns the complex models ordered by id.
func (g *Graph) Complex() []*models.Model {
	return g.filter(g.IsComplex)
}

// Edges returns every edge ordered by id.
func (g *Graph) Edges() []*models.ModelWeight {
	return sortedByID(slices.Collect(maps.Values(g.edges)), func(w *models.ModelWeight) int64 { return w.ID })
}

// OwnedBy returns the edges owned by the model.
func (g *Graph) OwnedBy(id int64) []*models.ModelWeight {
	return g.edgesWhere(func(w *models.ModelWeight) bool { return w.OwnerID == id })
}

// Incoming returns the contribution edges targeting a complex model.
func (g *Graph) Incoming(id int64) []*models.ModelWeight {
	return g.edgesWhere(func(w *models.ModelWeight) bool { return w.TargetID == id && !w.Standalone() })
}

// WeightOf returns the weight shared by every edge the simple model owns.
func (g *Graph) WeightOf(id int64) (int, error) {
	owned := g.OwnedBy(id)
	if len(owned) == 0 {
		return 0, fmt.Errorf("simple model %d owns no edges: %w", id, ErrInvariantViolation)
	}

	weight := owned[0].Weight
	for _, w := range owned[1:] {
		if w.Weight != weight {
			return 0, fmt.Errorf("simple model %d carries weights %d and %d: %w", id, weight, w.Weight, ErrInvariantViolation)
		}
	}

	return weight, nil
}

// AddModel persists and indexes a new model.
func (g *Graph) AddModel(ctx context.Context, m *models.Model) error {
	if _, ok := g.types[m.ModelTypeID]; !ok {
		return fmt.Errorf("model type %d: %w", m.ModelTypeID, ErrUnknownModelType)
	}

	if _, exists := g.ByType(m.ModelTypeID); exists {
		return fmt.Errorf("model type %d: %w", m.ModelTypeID, persistence.ErrDuplicateModel)
	}

	if err := g.writer.CreateModel(ctx, m); err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}

	g.models[m.ID] = m

	return nil
}

// RemoveModel deletes a model that no edge references any more.
func (g *Graph) RemoveModel(ctx context.Context, id int64) error {
	if _, ok := g.models[id]; !ok {
		return persistence.NewEntityError("RemoveModel", "model", id, persistence.ErrModelNotFound)
	}

	if refs := g.edgesWhere(func(w *models.ModelWeight) bool { return w.OwnerID == id || w.TargetID == id }); len(refs) > 0 {
		return fmt.Errorf("model %d still referenced by %d edges: %w", id, len(refs), ErrInvariantViolation)
	}

	if err := g.writer.DeleteModel(ctx, id); err != nil {
		return fmt.Errorf("failed to delete model %d: %w", id, err)
	}

	delete(g.models, id)

	return nil
}

// AddEdge connects a simple owner to itself or to a complex target.
func (g *Graph) AddEdge(ctx context.Context, ownerID, targetID int64, weight int) (*models.ModelWeight, error) {
	edge := &models.ModelWeight{OwnerID: ownerID, TargetID: targetID, Weight: weight}
	if err := g.validateEdge(edge); err != nil {
		return nil, err
	}

	if err := g.writer.CreateWeight(ctx, edge); err != nil {
		return nil, fmt.Errorf("failed to create model weight: %w", err)
	}

	g.edges[edge.ID] = edge

	return edge, nil
}

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(ctx context.Context, id int64) error {
	if _, ok := g.edges[id]; !ok {
		return persistence.NewEntityError("RemoveEdge", "model weight", id, persistence.ErrWeightNotFound)
	}

	if err := g.writer.DeleteWeight(ctx, id); err != nil {
		return fmt.Errorf("failed to delete model weight %d: %w", id, err)
	}

	delete(g.edges, id)

	return nil
}

// Retarget points an existing edge at another target, keeping its weight.
func (g *Graph) Retarget(ctx context.Context, id, targetID int64) error {
	edge, ok := g.edges[id]
	if !ok {
		return persistence.NewEntityError("Retarget", "model weight", id, persistence.ErrWeightNotFound)
	}

	updated := *edge
	updated.TargetID = targetID

	return g.update(ctx, edge, &updated)
}

// SetWeight sets the weight of every edge the simple model owns.
func (g *Graph) SetWeight(ctx context.Context, ownerID int64, weight int) error {
	for _, edge := range g.OwnedBy(ownerID) {
		updated := *edge
		updated.Weight = weight

		if err := g.update(ctx, edge, &updated); err != nil {
			return err
		}
	}

	return nil
}

// Check verifies every structural rule of the graph.
func (g *Graph) Check() error {
	complexModels := g.Complex()

	for _, edge := range g.Edges() {
		if err := g.validateEdge(edge); err != nil {
			return fmt.Errorf("edge %d: %w", edge.ID, ErrInvariantViolation)
		}
	}

	for _, m := range complexModels {
		if owned := g.OwnedBy(m.ID); len(owned) > 0 {
			return fmt.Errorf("complex model %d owns %d edges: %w", m.ID, len(owned), ErrInvariantViolation)
		}
	}

	for _, m := range g.Simple() {
		if _, err := g.WeightOf(m.ID); err != nil {
			return err
		}

		owned := g.OwnedBy(m.ID)
		if len(complexModels) == 0 {
			if len(owned) != 1 || !owned[0].Standalone() {
				return fmt.Errorf("standalone model %d must own exactly one self edge: %w", m.ID, ErrInvariantViolation)
			}

			continue
		}

		targets := make(map[int64]int, len(owned))
		for _, w := range owned {
			targets[w.TargetID]++
		}

		for _, c := range complexModels {
			if targets[c.ID] != 1 {
				return fmt.Errorf("model %d must feed complex model %d once: %w", m.ID, c.ID, ErrInvariantViolation)
			}
		}

		if len(owned) != len(complexModels) {
			return fmt.Errorf("model %d owns %d edges for %d complex models: %w", m.ID, len(owned), len(complexModels), ErrInvariantViolation)
		}
	}

	return nil
}

func (g *Graph) update(ctx context.Context, current, updated *models.ModelWeight) error {
	if err := g.validateEdge(updated); err != nil {
		return err
	}

	if err := g.writer.UpdateWeight(ctx, updated); err != nil {
		return fmt.Errorf("failed to update model weight %d: %w", updated.ID, err)
	}

	*current = *updated

	return nil
}

func (g *Graph) validateEdge(edge *models.ModelWeight) error {
	owner, ok := g.models[edge.OwnerID]
	if !ok {
		return fmt.Errorf("owner %d: %w", edge.OwnerID, persistence.ErrModelNotFound)
	}

	if g.IsComplex(owner) {
		return fmt.Errorf("complex model %d cannot own edges: %w", owner.ID, ErrInvalidEdge)
	}

	if edge.Weight <= 0 {
		return fmt.Errorf("weight %d must be positive: %w", edge.Weight, ErrInvalidEdge)
	}

	if edge.Standalone() {
		return nil
	}

	target, ok := g.models[edge.TargetID]
	if !ok {
		return fmt.Errorf("target %d: %w", edge.TargetID, persistence.ErrModelNotFound)
	}

	if !g.IsComplex(target) {
		return fmt.Errorf("simple model %d cannot be a contribution target: %w", target.ID, ErrInvalidEdge)
	}

	return nil
}

func (g *Graph) filter(keep func(*models.Model) bool) []*models.Model {
	out := make([]*models.Model, 0, len(g.models))
	for _, m := range g.Models() {
		if keep(m) {
			out = append(out, m)
		}
	}

	return out
}

func (g *Graph) edgesWhere(keep func(*models.ModelWeight) bool) []*models.ModelWeight {
	out := make([]*models.ModelWeight, 0)
	for _, w := range g.Edges() {
		if keep(w) {
			out = append(out, w)
		}
	}

	return out
}

func sortedByID[T any](items []T, id func(T) int64) []T {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(id(a), id(b)) })

	return items
}
