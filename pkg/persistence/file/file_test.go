package file

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) (*Persistence, string) {
	t.Helper()

	dir := t.TempDir()

	p, err := NewPersistence(dir)
	require.NoError(t, err)

	return p, dir
}

func seedAnalysis(t *testing.T, p *Persistence) (*models.Action, *models.Analysis) {
	t.Helper()

	ctx := t.Context()

	action := &models.Action{Name: "Forest search", LostTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, p.ActionRepository().Create(ctx, action))

	analysis := &models.Analysis{ActionID: action.ID, Name: "First pass"}
	require.NoError(t, p.AnalysisRepository().Create(ctx, analysis))

	return action, analysis
}

func addModel(t *testing.T, p *Persistence, analysisID, typeID int64, status models.ModelStatus) *models.Model {
	t.Helper()

	model := &models.Model{AnalysisID: analysisID, ModelTypeID: typeID, Status: status}

	err := p.WithinAnalysis(t.Context(), analysisID, func(ctx context.Context, tx persistence.Tx) error {
		return tx.CreateModel(ctx, model)
	})
	require.NoError(t, err)

	return model
}

func TestNewPersistence(t *testing.T) {
	p, err := NewPersistence("file:///tmp/montracker-test")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/montracker-test", p.root)

	require.NoError(t, p.Close(t.Context()))
}

func TestPersistence_ReloadsCommittedState(t *testing.T) {
	p, dir := newTestPersistence(t)
	_, analysis := seedAnalysis(t, p)

	model := addModel(t, p, analysis.ID, 1, models.StatusDraft)

	assert.FileExists(t, filepath.Join(dir, stateFile))

	reopened, err := NewPersistence(dir)
	require.NoError(t, err)

	loaded, err := reopened.ModelRepository().GetByID(t.Context(), model.ID)
	require.NoError(t, err)
	assert.Equal(t, model, loaded)

	action := &models.Action{Name: "Second", LostTime: time.Now()}
	require.NoError(t, reopened.ActionRepository().Create(t.Context(), action))
	assert.Greater(t, action.ID, model.ID, "ids keep increasing after reload")
}

func TestWithinAnalysis_RollbackDiscardsWrites(t *testing.T) {
	p, _ := newTestPersistence(t)
	_, analysis := seedAnalysis(t, p)

	err := p.WithinAnalysis(t.Context(), analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		model := &models.Model{AnalysisID: analysis.ID, ModelTypeID: 1, Status: models.StatusDraft}
		require.NoError(t, tx.CreateModel(ctx, model))

		inside, err := tx.Models(ctx)
		require.NoError(t, err)
		assert.Len(t, inside, 1)

		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	committed, err := p.ModelRepository().ByAnalysis(t.Context(), analysis.ID)
	require.NoError(t, err)
	assert.Empty(t, committed)
}

func TestWithinAnalysis_ReadersSeeCommittedSnapshot(t *testing.T) {
	p, _ := newTestPersistence(t)
	_, analysis := seedAnalysis(t, p)
	model := addModel(t, p, analysis.ID, 1, models.StatusWaiting)

	err := p.WithinAnalysis(t.Context(), analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		model.Status = models.StatusFinished
		require.NoError(t, tx.UpdateModel(ctx, model))

		outside, err := p.ModelRepository().GetByID(ctx, model.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaiting, outside.Status)

		return nil
	})
	require.NoError(t, err)

	committed, err := p.ModelRepository().GetByID(t.Context(), model.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, committed.Status)
}

func TestWithinAnalysis_Serializes(t *testing.T) {
	p, _ := newTestPersistence(t)
	_, analysis := seedAnalysis(t, p)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		active int
		peak   int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = p.WithinAnalysis(context.Background(), analysis.ID, func(context.Context, persistence.Tx) error {
				mu.Lock()
				active++
				peak = max(peak, active)
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()

				return nil
			})
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestWithinAnalysis_DeletedAnalysis(t *testing.T) {
	p, _ := newTestPersistence(t)
	action, analysis := seedAnalysis(t, p)

	require.NoError(t, p.ActionRepository().Delete(t.Context(), action.ID))

	err := p.WithinAnalysis(t.Context(), analysis.ID, func(context.Context, persistence.Tx) error {
		return nil
	})
	assert.True(t, persistence.IsAnalysisNotFound(err))

	_, err = p.AnalysisRepository().GetByID(t.Context(), analysis.ID)
	assert.True(t, persistence.IsAnalysisNotFound(err))
}

func TestModelRepository_InFlightSkipsDeleted(t *testing.T) {
	p, _ := newTestPersistence(t)
	action, kept := seedAnalysis(t, p)

	dropped := &models.Analysis{ActionID: action.ID, Name: "Dropped"}
	require.NoError(t, p.AnalysisRepository().Create(t.Context(), dropped))

	waiting := addModel(t, p, kept.ID, 1, models.StatusWaiting)
	addModel(t, p, kept.ID, 2, models.StatusFinished)
	addModel(t, p, kept.ID, 3, models.StatusDraft)
	addModel(t, p, dropped.ID, 1, models.StatusComputing)

	require.NoError(t, p.AnalysisRepository().Delete(t.Context(), dropped.ID))

	inFlight, err := p.ModelRepository().InFlight(t.Context())
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.Equal(t, waiting.ID, inFlight[0].ID)
}

func TestRepositories_StatusFilters(t *testing.T) {
	p, _ := newTestPersistence(t)
	ctx := t.Context()

	action, finished := seedAnalysis(t, p)
	addModel(t, p, finished.ID, 1, models.StatusFinished)

	mixed := &models.Analysis{ActionID: action.ID, Name: "Mixed"}
	require.NoError(t, p.AnalysisRepository().Create(ctx, mixed))
	addModel(t, p, mixed.ID, 1, models.StatusWaiting)
	addModel(t, p, mixed.ID, 2, models.StatusError)

	idle := &models.Action{Name: "Idle", LostTime: time.Now()}
	require.NoError(t, p.ActionRepository().Create(ctx, idle))

	errored, err := p.ActionRepository().List(ctx, persistence.ListActionsOptions{Statuses: []models.ModelStatus{models.StatusError}})
	require.NoError(t, err)
	require.Len(t, errored, 1)
	assert.Equal(t, action.ID, errored[0].ID)

	drafts, err := p.ActionRepository().List(ctx, persistence.ListActionsOptions{Statuses: []models.ModelStatus{models.StatusDraft}})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, idle.ID, drafts[0].ID)

	analyses, err := p.AnalysisRepository().List(ctx, persistence.ListAnalysesOptions{Statuses: []models.ModelStatus{models.StatusFinished}})
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, finished.ID, analyses[0].ID)

	counts, err := p.AnalysisRepository().StatusCounts(ctx, mixed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, counts.Rollup())

	actionCounts, err := p.ActionRepository().StatusCounts(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCounts{models.StatusFinished: 1, models.StatusError: 1}, actionCounts)
	assert.Equal(t, models.StatusError, actionCounts.Rollup())

	archived := true
	action.Archived = true
	require.NoError(t, p.ActionRepository().Update(ctx, action))

	onlyArchived, err := p.ActionRepository().List(ctx, persistence.ListActionsOptions{Archived: &archived})
	require.NoError(t, err)
	assert.Len(t, onlyArchived, 1)

	visible, err := p.AnalysisRepository().List(ctx, persistence.ListAnalysesOptions{})
	require.NoError(t, err)
	assert.Empty(t, visible, "analyses of archived actions are hidden")

	all, err := p.AnalysisRepository().List(ctx, persistence.ListAnalysesOptions{ActionID: action.ID, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTx_ProfileUniqueness(t *testing.T) {
	p, _ := newTestPersistence(t)
	_, analysis := seedAnalysis(t, p)

	err := p.WithinAnalysis(t.Context(), analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.SaveProfile(ctx, &models.Profile{AnalysisID: analysis.ID, PersonTypeID: 4, Weight: 2}))

		return tx.SaveProfile(ctx, &models.Profile{AnalysisID: analysis.ID, PersonTypeID: 4, Weight: 3})
	})
	require.ErrorIs(t, err, persistence.ErrDuplicateProfile)

	profiles, err := p.ModelRepository().Profiles(t.Context(), analysis.ID)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestCatalog_SaveAndList(t *testing.T) {
	p, _ := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.Catalog().SaveModelType(ctx, &models.ModelType{ID: 7, Name: "ring", Active: true}))
	require.NoError(t, p.Catalog().SavePersonType(ctx, &models.PersonType{Name: "hiker", Active: true}))

	types, err := p.Catalog().ModelTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "ring", types[0].Name)

	people, err := p.Catalog().PersonTypes(ctx)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, int64(8), people[0].ID)
}

func TestCreateAnalysis(t *testing.T) {
	p, _ := newTestPersistence(t)
	ctx := t.Context()
	action, _ := seedAnalysis(t, p)

	t.Run("commits the analysis with its models", func(t *testing.T) {
		analysis := &models.Analysis{ActionID: action.ID, Name: "Created"}

		err := p.CreateAnalysis(ctx, analysis, func(ctx context.Context, tx persistence.Tx) error {
			_, err := p.AnalysisRepository().GetByID(ctx, analysis.ID)
			require.True(t, persistence.IsAnalysisNotFound(err), "the insert is not visible before commit")

			return tx.CreateModel(ctx, &models.Model{AnalysisID: analysis.ID, ModelTypeID: 1, Status: models.StatusDraft})
		})
		require.NoError(t, err)

		stored, err := p.AnalysisRepository().GetByID(ctx, analysis.ID)
		require.NoError(t, err)
		assert.Equal(t, "Created", stored.Name)
		assert.False(t, stored.CreatedAt.IsZero())

		modelRows, err := p.ModelRepository().ByAnalysis(ctx, analysis.ID)
		require.NoError(t, err)
		assert.Len(t, modelRows, 1)
	})

	t.Run("an error from fn stores nothing", func(t *testing.T) {
		analysis := &models.Analysis{ActionID: action.ID, Name: "Rejected"}

		err := p.CreateAnalysis(ctx, analysis, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.CreateModel(ctx, &models.Model{AnalysisID: analysis.ID, ModelTypeID: 1, Status: models.StatusDraft}))

			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		_, err = p.AnalysisRepository().GetByID(ctx, analysis.ID)
		assert.True(t, persistence.IsAnalysisNotFound(err))
	})

	t.Run("missing action", func(t *testing.T) {
		err := p.CreateAnalysis(ctx, &models.Analysis{ActionID: 999}, func(context.Context, persistence.Tx) error {
			t.Fatal("fn must not run")

			return nil
		})
		assert.True(t, persistence.IsActionNotFound(err))
	})
}

func TestTx_UpdateAnalysis(t *testing.T) {
	p, _ := newTestPersistence(t)
	ctx := t.Context()
	action, analysis := seedAnalysis(t, p)

	err := p.WithinAnalysis(ctx, analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		row, err := tx.Analysis(ctx)
		require.NoError(t, err)

		row.Name = "Renamed"
		row.ActionID = 999
		require.NoError(t, tx.UpdateAnalysis(ctx, row))

		inside, err := tx.Analysis(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", inside.Name)

		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	stored, err := p.AnalysisRepository().GetByID(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, "First pass", stored.Name)

	err = p.WithinAnalysis(ctx, analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		row, err := tx.Analysis(ctx)
		require.NoError(t, err)

		row.Name = "Renamed"
		row.ActionID = 999

		return tx.UpdateAnalysis(ctx, row)
	})
	require.NoError(t, err)

	stored, err = p.AnalysisRepository().GetByID(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, action.ID, stored.ActionID, "the action cannot be changed")
}

func TestPersistence_SharedDirectory(t *testing.T) {
	dir := t.TempDir()
	ctx := t.Context()

	api, err := NewPersistence(dir)
	require.NoError(t, err)

	_, analysis := seedAnalysis(t, api)
	model := addModel(t, api, analysis.ID, 1, models.StatusWaiting)

	worker, err := NewPersistence(dir)
	require.NoError(t, err)

	err = worker.WithinAnalysis(ctx, analysis.ID, func(ctx context.Context, tx persistence.Tx) error {
		model.Status = models.StatusFinished
		model.ResultID = "r-1"

		return tx.UpdateModel(ctx, model)
	})
	require.NoError(t, err)

	second := &models.Analysis{ActionID: analysis.ActionID, Name: "Second pass"}
	require.NoError(t, api.AnalysisRepository().Create(ctx, second))

	merged, err := api.ModelRepository().GetByID(ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, merged.Status, "the other instance's merge survives")

	reopened, err := NewPersistence(dir)
	require.NoError(t, err)

	onDisk, err := reopened.ModelRepository().GetByID(ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, "r-1", onDisk.ResultID)

	_, err = reopened.AnalysisRepository().GetByID(ctx, second.ID)
	require.NoError(t, err)
}

func TestRepositories_TimeFilters(t *testing.T) {
	p, _ := newTestPersistence(t)
	ctx := t.Context()

	may := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	early := &models.Action{Name: "Early", LostTime: may, CreatedAt: may}
	late := &models.Action{Name: "Late", LostTime: june, CreatedAt: june}
	require.NoError(t, p.ActionRepository().Create(ctx, early))
	require.NoError(t, p.ActionRepository().Create(ctx, late))

	inherited := &models.Analysis{ActionID: early.ID, Name: "Inherited", CreatedAt: may}
	own := &models.Analysis{ActionID: early.ID, Name: "Own", LostTime: &june, CreatedAt: june}
	require.NoError(t, p.AnalysisRepository().Create(ctx, inherited))
	require.NoError(t, p.AnalysisRepository().Create(ctx, own))

	mid := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		actions  persistence.ListActionsOptions
		analyses persistence.ListAnalysesOptions
		action   []int64
		analysis []int64
	}{
		{
			name:     "open ranges",
			action:   []int64{late.ID, early.ID},
			analysis: []int64{own.ID, inherited.ID},
		},
		{
			name:     "created after mid",
			actions:  persistence.ListActionsOptions{Created: persistence.TimeRange{From: &mid}},
			analyses: persistence.ListAnalysesOptions{Created: persistence.TimeRange{From: &mid}},
			action:   []int64{late.ID},
			analysis: []int64{own.ID},
		},
		{
			name:     "lost up to mid uses the action lost time",
			actions:  persistence.ListActionsOptions{Lost: persistence.TimeRange{To: &mid}},
			analyses: persistence.ListAnalysesOptions{Lost: persistence.TimeRange{To: &mid}},
			action:   []int64{early.ID},
			analysis: []int64{inherited.ID},
		},
		{
			name:     "inclusive bounds",
			actions:  persistence.ListActionsOptions{Lost: persistence.TimeRange{From: &june, To: &june}},
			analyses: persistence.ListAnalysesOptions{Lost: persistence.TimeRange{From: &june, To: &june}},
			action:   []int64{late.ID},
			analysis: []int64{own.ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, err := p.ActionRepository().List(ctx, tt.actions)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.action, actionIDs(actions))

			analyses, err := p.AnalysisRepository().List(ctx, tt.analyses)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.analysis, analysisIDs(analyses))
		})
	}
}

func actionIDs(actions []*models.Action) []int64 {
	out := make([]int64, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}

	return out
}

func analysisIDs(analyses []*models.Analysis) []int64 {
	out := make([]int64, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, a.ID)
	}

	return out
}
