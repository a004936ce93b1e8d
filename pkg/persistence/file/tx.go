package file

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// tx works on private copies of the rows of one analysis. Every write is
// recorded in the journal and replayed on the committed state on success.
type tx struct {
	fp         *Persistence
	analysisID int64
	analysis   *models.Analysis
	action     *models.Action
	models     map[int64]*models.Model
	weights    map[int64]*models.ModelWeight
	profiles   map[int64]*models.Profile
	layers     map[int64]*models.Layer
	journal    []func(s *state)
}

var _ persistence.Tx = (*tx)(nil)

func newTx(fp *Persistence, s *state, analysisID int64) (*tx, error) {
	analysis, action, ok := liveAnalysis(s, analysisID)
	if !ok {
		return nil, persistence.NewEntityError("WithinAnalysis", "analysis", analysisID, persistence.ErrAnalysisNotFound)
	}

	unit := &tx{
		fp:         fp,
		analysisID: analysisID,
		analysis:   clone(analysis),
		action:     clone(action),
		models:     make(map[int64]*models.Model),
		weights:    make(map[int64]*models.ModelWeight),
		profiles:   make(map[int64]*models.Profile),
		layers:     make(map[int64]*models.Layer),
	}

	for id, m := range s.Models {
		if m.AnalysisID == analysisID {
			unit.models[id] = clone(m)
		}
	}

	for id, w := range s.Weights {
		if _, ok := unit.models[w.OwnerID]; ok {
			unit.weights[id] = clone(w)
		}
	}

	for id, p := range s.Profiles {
		if p.AnalysisID == analysisID {
			unit.profiles[id] = clone(p)
		}
	}

	for id, l := range s.Layers {
		if _, ok := unit.models[l.ModelID]; ok {
			unit.layers[id] = clone(l)
		}
	}

	return unit, nil
}

func (t *tx) record(apply func(s *state)) {
	t.journal = append(t.journal, apply)
}

func (t *tx) Analysis(_ context.Context) (*models.Analysis, error) {
	return clone(t.analysis), nil
}

func (t *tx) UpdateAnalysis(_ context.Context, analysis *models.Analysis) error {
	row := clone(analysis)
	row.ID = t.analysisID
	row.ActionID = t.analysis.ActionID
	row.CreatedAt = t.analysis.CreatedAt
	row.Deleted = false
	t.analysis = row

	t.record(func(s *state) {
		stored := clone(row)
		if current, ok := s.Analyses[row.ID]; ok {
			stored.Deleted = current.Deleted
		}

		s.Analyses[row.ID] = stored
	})

	return nil
}

func (t *tx) Action(_ context.Context) (*models.Action, error) {
	return clone(t.action), nil
}

func (t *tx) Models(_ context.Context) ([]*models.Model, error) {
	return rows(t.models, func(m *models.Model) bool { return m.AnalysisID == t.analysisID }), nil
}

func (t *tx) Weights(_ context.Context) ([]*models.ModelWeight, error) {
	return rows(t.weights, func(w *models.ModelWeight) bool {
		owner, ok := t.models[w.OwnerID]

		return ok && owner.AnalysisID == t.analysisID
	}), nil
}

func (t *tx) Profiles(_ context.Context) ([]*models.Profile, error) {
	return rows(t.profiles, func(p *models.Profile) bool { return p.AnalysisID == t.analysisID }), nil
}

func (t *tx) Layers(_ context.Context, modelID int64) ([]*models.Layer, error) {
	return rows(t.layers, func(l *models.Layer) bool { return l.ModelID == modelID }), nil
}

func (t *tx) CreateAnalysis(_ context.Context, analysis *models.Analysis) error {
	analysis.ID = t.fp.nextID()
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}

	row := clone(analysis)

	t.record(func(s *state) { s.Analyses[row.ID] = row })

	return nil
}

func (t *tx) CreateModel(_ context.Context, model *models.Model) error {
	for _, existing := range t.models {
		if existing.AnalysisID == model.AnalysisID && existing.ModelTypeID == model.ModelTypeID {
			return persistence.ErrDuplicateModel
		}
	}

	model.ID = t.fp.nextID()
	row := clone(model)
	t.models[row.ID] = row

	t.record(func(s *state) { s.Models[row.ID] = clone(row) })

	return nil
}

func (t *tx) UpdateModel(_ context.Context, model *models.Model) error {
	if _, ok := t.models[model.ID]; !ok {
		return persistence.NewEntityError("UpdateModel", "model", model.ID, persistence.ErrModelNotFound)
	}

	row := clone(model)
	t.models[row.ID] = row

	t.record(func(s *state) { s.Models[row.ID] = clone(row) })

	return nil
}

func (t *tx) DeleteModel(_ context.Context, id int64) error {
	if _, ok := t.models[id]; !ok {
		return persistence.NewEntityError("DeleteModel", "model", id, persistence.ErrModelNotFound)
	}

	delete(t.models, id)

	for layerID, l := range t.layers {
		if l.ModelID == id {
			delete(t.layers, layerID)
		}
	}

	t.record(func(s *state) {
		delete(s.Models, id)

		for layerID, l := range s.Layers {
			if l.ModelID == id {
				delete(s.Layers, layerID)
			}
		}
	})

	return nil
}

func (t *tx) CreateWeight(_ context.Context, weight *models.ModelWeight) error {
	weight.ID = t.fp.nextID()
	row := clone(weight)
	t.weights[row.ID] = row

	t.record(func(s *state) { s.Weights[row.ID] = clone(row) })

	return nil
}

func (t *tx) UpdateWeight(_ context.Context, weight *models.ModelWeight) error {
	if _, ok := t.weights[weight.ID]; !ok {
		return persistence.NewEntityError("UpdateWeight", "model weight", weight.ID, persistence.ErrWeightNotFound)
	}

	row := clone(weight)
	t.weights[row.ID] = row

	t.record(func(s *state) { s.Weights[row.ID] = clone(row) })

	return nil
}

func (t *tx) DeleteWeight(_ context.Context, id int64) error {
	if _, ok := t.weights[id]; !ok {
		return persistence.NewEntityError("DeleteWeight", "model weight", id, persistence.ErrWeightNotFound)
	}

	delete(t.weights, id)

	t.record(func(s *state) { delete(s.Weights, id) })

	return nil
}

func (t *tx) CreateLayer(_ context.Context, layer *models.Layer) error {
	layer.ID = t.fp.nextID()
	row := clone(layer)
	t.layers[row.ID] = row

	t.record(func(s *state) { s.Layers[row.ID] = clone(row) })

	return nil
}

func (t *tx) SaveProfile(_ context.Context, profile *models.Profile) error {
	for _, existing := range t.profiles {
		if existing.ID != profile.ID &&
			existing.AnalysisID == profile.AnalysisID &&
			existing.PersonTypeID == profile.PersonTypeID {
			return persistence.ErrDuplicateProfile
		}
	}

	if profile.ID == 0 {
		profile.ID = t.fp.nextID()
	} else if _, ok := t.profiles[profile.ID]; !ok {
		return persistence.NewEntityError("SaveProfile", "profile", profile.ID, persistence.ErrProfileNotFound)
	}

	row := clone(profile)
	t.profiles[row.ID] = row

	t.record(func(s *state) { s.Profiles[row.ID] = clone(row) })

	return nil
}

func (t *tx) DeleteProfile(_ context.Context, id int64) error {
	if _, ok := t.profiles[id]; !ok {
		return persistence.NewEntityError("DeleteProfile", "profile", id, persistence.ErrProfileNotFound)
	}

	delete(t.profiles, id)

	t.record(func(s *state) { delete(s.Profiles, id) })

	return nil
}

// rows returns copies of the matching rows ordered by id.
func rows[V any](table map[int64]*V, keep func(*V) bool) []*V {
	out := make([]*V, 0, len(table))

	for _, id := range slices.Sorted(maps.Keys(table)) {
		row := table[id]
		if keep == nil || keep(row) {
			out = append(out, clone(row))
		}
	}

	return out
}
