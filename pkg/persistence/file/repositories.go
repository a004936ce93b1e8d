package file

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

type catalog struct {
	fp *Persistence
}

func (c *catalog) ModelTypes(_ context.Context) ([]*models.ModelType, error) {
	var out []*models.ModelType

	err := c.fp.read(func(s *state) error {
		out = rows(s.ModelTypes, nil)

		return nil
	})

	return out, err
}

func (c *catalog) PersonTypes(_ context.Context) ([]*models.PersonType, error) {
	var out []*models.PersonType

	err := c.fp.read(func(s *state) error {
		out = rows(s.PersonTypes, nil)

		return nil
	})

	return out, err
}

func (c *catalog) SaveModelType(_ context.Context, modelType *models.ModelType) error {
	return c.fp.write(func(s *state) error {
		if modelType.ID == 0 {
			modelType.ID = s.allocate()
		} else if modelType.ID > s.NextID {
			s.NextID = modelType.ID
		}

		s.ModelTypes[modelType.ID] = clone(modelType)

		return nil
	})
}

func (c *catalog) SavePersonType(_ context.Context, personType *models.PersonType) error {
	return c.fp.write(func(s *state) error {
		if personType.ID == 0 {
			personType.ID = s.allocate()
		} else if personType.ID > s.NextID {
			s.NextID = personType.ID
		}

		s.PersonTypes[personType.ID] = clone(personType)

		return nil
	})
}

type actionRepository struct {
	fp *Persistence
}

func (r *actionRepository) Create(_ context.Context, action *models.Action) error {
	return r.fp.write(func(s *state) error {
		action.ID = s.allocate()
		if action.CreatedAt.IsZero() {
			action.CreatedAt = time.Now().UTC()
		}

		s.Actions[action.ID] = clone(action)

		return nil
	})
}

func (r *actionRepository) Update(_ context.Context, action *models.Action) error {
	return r.fp.write(func(s *state) error {
		current, ok := s.Actions[action.ID]
		if !ok || current.Deleted {
			return persistence.NewEntityError("Update", "action", action.ID, persistence.ErrActionNotFound)
		}

		row := clone(action)
		row.CreatedAt = current.CreatedAt
		row.Deleted = false
		s.Actions[row.ID] = row

		return nil
	})
}

func (r *actionRepository) GetByID(_ context.Context, id int64) (*models.Action, error) {
	var out *models.Action

	err := r.fp.read(func(s *state) error {
		action, ok := s.Actions[id]
		if !ok || action.Deleted {
			return persistence.NewEntityError("GetByID", "action", id, persistence.ErrActionNotFound)
		}

		out = clone(action)

		return nil
	})

	return out, err
}

func (r *actionRepository) List(_ context.Context, opts persistence.ListActionsOptions) ([]*models.Action, error) {
	var out []*models.Action

	err := r.fp.read(func(s *state) error {
		out = rows(s.Actions, func(a *models.Action) bool {
			if a.Deleted || !matchesName(a.Name, opts.Name) {
				return false
			}

			if opts.Archived != nil && a.Archived != *opts.Archived {
				return false
			}

			if !opts.Created.Contains(a.CreatedAt) || !opts.Lost.Contains(a.LostTime) {
				return false
			}

			return matchesStatus(actionCounts(s, a.ID).Rollup(), opts.Statuses)
		})

		return nil
	})

	slices.Reverse(out)

	return out, err
}

func (r *actionRepository) Delete(_ context.Context, id int64) error {
	return r.fp.write(func(s *state) error {
		action, ok := s.Actions[id]
		if !ok || action.Deleted {
			return persistence.NewEntityError("Delete", "action", id, persistence.ErrActionNotFound)
		}

		row := clone(action)
		row.Deleted = true
		s.Actions[id] = row

		for analysisID, analysis := range s.Analyses {
			if analysis.ActionID == id && !analysis.Deleted {
				deleted := clone(analysis)
				deleted.Deleted = true
				s.Analyses[analysisID] = deleted
			}
		}

		return nil
	})
}

func (r *actionRepository) StatusCounts(_ context.Context, id int64) (models.StatusCounts, error) {
	var counts models.StatusCounts

	err := r.fp.read(func(s *state) error {
		if action, ok := s.Actions[id]; !ok || action.Deleted {
			return persistence.NewEntityError("StatusCounts", "action", id, persistence.ErrActionNotFound)
		}

		counts = actionCounts(s, id)

		return nil
	})

	return counts, err
}

type analysisRepository struct {
	fp *Persistence
}

func (r *analysisRepository) Create(_ context.Context, analysis *models.Analysis) error {
	return r.fp.write(func(s *state) error {
		action, ok := s.Actions[analysis.ActionID]
		if !ok || action.Deleted {
			return persistence.NewEntityError("Create", "action", analysis.ActionID, persistence.ErrActionNotFound)
		}

		analysis.ID = s.allocate()
		if analysis.CreatedAt.IsZero() {
			analysis.CreatedAt = time.Now().UTC()
		}

		s.Analyses[analysis.ID] = clone(analysis)

		return nil
	})
}

func (r *analysisRepository) Update(_ context.Context, analysis *models.Analysis) error {
	unlock := r.fp.lockAnalysis(analysis.ID)
	defer unlock()

	return r.fp.write(func(s *state) error {
		current, _, ok := liveAnalysis(s, analysis.ID)
		if !ok {
			return persistence.NewEntityError("Update", "analysis", analysis.ID, persistence.ErrAnalysisNotFound)
		}

		row := clone(analysis)
		row.ActionID = current.ActionID
		row.CreatedAt = current.CreatedAt
		row.Deleted = false
		s.Analyses[row.ID] = row

		return nil
	})
}

func (r *analysisRepository) GetByID(_ context.Context, id int64) (*models.Analysis, error) {
	var out *models.Analysis

	err := r.fp.read(func(s *state) error {
		analysis, _, ok := liveAnalysis(s, id)
		if !ok {
			return persistence.NewEntityError("GetByID", "analysis", id, persistence.ErrAnalysisNotFound)
		}

		out = clone(analysis)

		return nil
	})

	return out, err
}

func (r *analysisRepository) List(_ context.Context, opts persistence.ListAnalysesOptions) ([]*models.Analysis, error) {
	var out []*models.Analysis

	err := r.fp.read(func(s *state) error {
		out = rows(s.Analyses, func(a *models.Analysis) bool {
			_, action, ok := liveAnalysis(s, a.ID)
			if !ok || (action.Archived && !opts.IncludeArchived) || !matchesName(a.Name, opts.Name) {
				return false
			}

			if opts.ActionID != 0 && a.ActionID != opts.ActionID {
				return false
			}

			if !opts.Created.Contains(a.CreatedAt) || !lostWithin(a, action, opts.Lost) {
				return false
			}

			return matchesStatus(analysisCounts(s, a.ID).Rollup(), opts.Statuses)
		})

		return nil
	})

	slices.Reverse(out)

	return out, err
}

func (r *analysisRepository) Delete(_ context.Context, id int64) error {
	unlock := r.fp.lockAnalysis(id)
	defer unlock()

	return r.fp.write(func(s *state) error {
		analysis, _, ok := liveAnalysis(s, id)
		if !ok {
			return persistence.NewEntityError("Delete", "analysis", id, persistence.ErrAnalysisNotFound)
		}

		row := clone(analysis)
		row.Deleted = true
		s.Analyses[id] = row

		return nil
	})
}

func (r *analysisRepository) StatusCounts(_ context.Context, id int64) (models.StatusCounts, error) {
	var counts models.StatusCounts

	err := r.fp.read(func(s *state) error {
		if _, _, ok := liveAnalysis(s, id); !ok {
			return persistence.NewEntityError("StatusCounts", "analysis", id, persistence.ErrAnalysisNotFound)
		}

		counts = analysisCounts(s, id)

		return nil
	})

	return counts, err
}

// lostWithin matches the effective lost time. An analysis without one only
// passes an open range.
func lostWithin(analysis *models.Analysis, action *models.Action, r persistence.TimeRange) bool {
	if r.Open() {
		return true
	}

	lost := analysis.Resolve(action).LostTime

	return lost != nil && r.Contains(*lost)
}

type modelRepository struct {
	fp *Persistence
}

func (r *modelRepository) GetByID(_ context.Context, id int64) (*models.Model, error) {
	var out *models.Model

	err := r.fp.read(func(s *state) error {
		model, ok := s.Models[id]
		if !ok {
			return persistence.NewEntityError("GetByID", "model", id, persistence.ErrModelNotFound)
		}

		out = clone(model)

		return nil
	})

	return out, err
}

func (r *modelRepository) InFlight(_ context.Context) ([]*models.Model, error) {
	var out []*models.Model

	err := r.fp.read(func(s *state) error {
		out = rows(s.Models, func(m *models.Model) bool {
			_, _, live := liveAnalysis(s, m.AnalysisID)

			return live && m.Status.InFlight()
		})

		return nil
	})

	return out, err
}

func (r *modelRepository) ByAnalysis(_ context.Context, analysisID int64) ([]*models.Model, error) {
	var out []*models.Model

	err := r.fp.read(func(s *state) error {
		out = rows(s.Models, func(m *models.Model) bool { return m.AnalysisID == analysisID })

		return nil
	})

	return out, err
}

func (r *modelRepository) Weights(_ context.Context, analysisID int64) ([]*models.ModelWeight, error) {
	var out []*models.ModelWeight

	err := r.fp.read(func(s *state) error {
		out = rows(s.Weights, func(w *models.ModelWeight) bool {
			owner, ok := s.Models[w.OwnerID]

			return ok && owner.AnalysisID == analysisID
		})

		return nil
	})

	return out, err
}

func (r *modelRepository) Profiles(_ context.Context, analysisID int64) ([]*models.Profile, error) {
	var out []*models.Profile

	err := r.fp.read(func(s *state) error {
		out = rows(s.Profiles, func(p *models.Profile) bool { return p.AnalysisID == analysisID })

		return nil
	})

	return out, err
}

func (r *modelRepository) Layers(_ context.Context, modelID int64) ([]*models.Layer, error) {
	var out []*models.Layer

	err := r.fp.read(func(s *state) error {
		out = rows(s.Layers, func(l *models.Layer) bool { return l.ModelID == modelID })

		return nil
	})

	return out, err
}

func analysisCounts(s *state, analysisID int64) models.StatusCounts {
	counts := make(models.StatusCounts)

	for _, m := range s.Models {
		if m.AnalysisID == analysisID {
			counts[m.Status]++
		}
	}

	return counts
}

func actionCounts(s *state, actionID int64) models.StatusCounts {
	counts := make(models.StatusCounts)

	for _, a := range s.Analyses {
		if a.ActionID == actionID && !a.Deleted {
			counts[analysisCounts(s, a.ID).Rollup()]++
		}
	}

	return counts
}

func matchesStatus(status models.ModelStatus, statuses []models.ModelStatus) bool {
	return len(statuses) == 0 || slices.Contains(statuses, status)
}

func matchesName(name, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}
