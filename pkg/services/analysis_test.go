package services_test

import (
	"testing"

	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAnalysisService_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	action := f.newAction(t)

	detail, err := f.analyses.Create(ctx, services.CreateAnalysisRequest{
		Analysis: &models.Analysis{ActionID: action.ID, Name: "Ridge"},
		Models:   with(map[int64]*int{1: weight(2), 2: nil}, complexA),
		Profiles: map[int64]int{hiker: 4},
	})
	require.NoError(t, err)

	assert.NotZero(t, detail.ID)
	assert.Equal(t, models.StatusDraft, detail.Status)
	assert.False(t, detail.CreatedAt.IsZero())
	require.Len(t, detail.Models, 3)
	require.Len(t, detail.Profiles, 1)
	assert.Equal(t, 4, detail.Profiles[0].Weight)

	byName := make(map[string]*services.ModelDetail)
	for _, m := range detail.Models {
		byName[m.Name] = m
	}

	require.NotNil(t, byName["simple-1"].Weight)
	assert.Equal(t, 2, *byName["simple-1"].Weight)
	assert.Equal(t, 1, *byName["simple-2"].Weight)
	assert.True(t, byName["complex-a"].Complex)
	assert.Nil(t, byName["complex-a"].Weight)

	got, err := f.analyses.Get(ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, detail.Models, got.Models)
}

func TestAnalysisService_CreateRollsBackOnInvalidModels(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	action := f.newAction(t)

	_, err := f.analyses.Create(ctx, services.CreateAnalysisRequest{
		Analysis: &models.Analysis{ActionID: action.ID, Name: "Broken"},
		Models:   map[int64]*int{404: nil},
	})
	require.ErrorIs(t, err, services.ErrUnknownModelType)

	list, err := f.analyses.List(ctx, persistence.ListAnalysesOptions{ActionID: action.ID})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.analyses.Create(ctx, services.CreateAnalysisRequest{})
	assert.True(t, services.IsValidationError(err))
}

func TestAnalysisService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.newAnalysis(t, f.newAction(t))

	detail, err := f.analyses.Update(ctx, analysis.ID, services.UpdateAnalysisRequest{
		Name:        ptr("Renamed"),
		IPPLatitude: ptr(10.5),
		Models:      simpleSet(2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Name)
	assert.InDelta(t, 10.5, *detail.IPPLatitude, 0)
	assert.Len(t, detail.Models, 2)

	detail, err = f.analyses.Update(ctx, analysis.ID, services.UpdateAnalysisRequest{Description: ptr("notes")})
	require.NoError(t, err)
	assert.Equal(t, "notes", detail.Description)
	assert.Len(t, detail.Models, 2, "nil models leave the graph untouched")

	f.setStatus(t, analysis.ID, models.StatusWaiting, 1)

	_, err = f.analyses.Update(ctx, analysis.ID, services.UpdateAnalysisRequest{Models: simpleSet(1, 1)})
	require.ErrorIs(t, err, services.ErrStateConflict)

	_, err = f.analyses.Update(ctx, 999, services.UpdateAnalysisRequest{})
	assert.True(t, persistence.IsAnalysisNotFound(err))
}

func TestAnalysisService_UpdateIsAtomic(t *testing.T) {
	tests := []struct {
		name   string
		status models.ModelStatus
		req    services.UpdateAnalysisRequest
	}{
		{
			name:   "waiting analysis rejects field edits",
			status: models.StatusWaiting,
			req:    services.UpdateAnalysisRequest{Name: ptr("Renamed"), IPPLatitude: ptr(1.5)},
		},
		{
			name:   "waiting analysis rejects fields with models",
			status: models.StatusWaiting,
			req:    services.UpdateAnalysisRequest{Name: ptr("Renamed"), IPPLatitude: ptr(1.5), Models: simpleSet(2, 1)},
		},
		{
			name:   "finished analysis rejects fields with models",
			status: models.StatusFinished,
			req:    services.UpdateAnalysisRequest{Name: ptr("Renamed"), IPPLatitude: ptr(1.5), Models: simpleSet(2, 1)},
		},
		{
			name:   "finished analysis rejects fields with profiles",
			status: models.StatusFinished,
			req:    services.UpdateAnalysisRequest{Name: ptr("Renamed"), IPPLatitude: ptr(1.5), Profiles: map[int64]int{hiker: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := t.Context()
			analysis := f.newAnalysis(t, f.newAction(t))

			require.NoError(t, f.reconciler.Reconcile(ctx, analysis.ID, simpleSet(1, 1)))
			f.setStatus(t, analysis.ID, tt.status, 1)

			_, err := f.analyses.Update(ctx, analysis.ID, tt.req)
			require.ErrorIs(t, err, services.ErrStateConflict)

			stored, err := f.p.AnalysisRepository().GetByID(ctx, analysis.ID)
			require.NoError(t, err)
			assert.Equal(t, "First pass", stored.Name)
			assert.Nil(t, stored.IPPLatitude)
			assert.Equal(t, []int64{1}, typeSet(f.committed(t, analysis.ID)))
		})
	}
}

func TestAnalysisService_UpdateFinishedFields(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.newAnalysis(t, f.newAction(t))

	require.NoError(t, f.reconciler.Reconcile(ctx, analysis.ID, simpleSet(1, 1)))
	f.setStatus(t, analysis.ID, models.StatusFinished, 1)

	detail, err := f.analyses.Update(ctx, analysis.ID, services.UpdateAnalysisRequest{Name: ptr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Name)
	assert.Equal(t, models.StatusFinished, detail.Status)
}

func TestAnalysisService_ListFiltersOnStatus(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	action := f.newAction(t)

	draft := f.newAnalysis(t, action)
	running := f.newAnalysis(t, action)
	require.NoError(t, f.reconciler.Reconcile(ctx, running.ID, simpleSet(1, 1)))
	f.setStatus(t, running.ID, models.StatusWaiting, 1)

	list, err := f.analyses.List(ctx, persistence.ListAnalysesOptions{
		ActionID: action.ID,
		Statuses: []models.ModelStatus{models.StatusWaiting},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, running.ID, list[0].ID)
	assert.Equal(t, models.StatusWaiting, list[0].Status)

	list, err = f.analyses.List(ctx, persistence.ListAnalysesOptions{ActionID: action.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []int64{draft.ID, running.ID}, []int64{list[0].ID, list[1].ID})

	_, err = f.analyses.List(ctx, persistence.ListAnalysesOptions{Statuses: []models.ModelStatus{"bogus"}})
	assert.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestAnalysisService_DeleteCancelsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, simpleSet(2, 1))
	f.setStatus(t, analysis.ID, models.StatusComputing, 1, 2)

	f.remote.On("Cancel", mock.Anything, mock.Anything).Return(nil).Twice()

	require.NoError(t, f.analyses.Delete(ctx, analysis.ID))
	f.remote.AssertExpectations(t)

	_, err := f.analyses.Get(ctx, analysis.ID)
	assert.True(t, persistence.IsAnalysisNotFound(err))

	require.Len(t, f.published, 1)
	deleted, ok := f.published[0].(events.AnalysisDeleted)
	require.True(t, ok)
	assert.Equal(t, analysis.ID, deleted.AnalysisID)
	assert.Equal(t, 2, deleted.Cancelled)
}

func TestAnalysisService_DuplicateAndStart(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	source := f.ready(t, simpleSet(1, 1))

	copied, err := f.analyses.Duplicate(ctx, source.ID, services.DuplicateOverrides{})
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, copied.ID)
	require.Len(t, copied.Models, 1)
	require.Len(t, copied.Profiles, 2)

	f.remote.On("SubmitSimple", mock.Anything, mock.Anything).Return(remoteIDs("simple-1"), nil).Once()

	started, err := f.analyses.Start(ctx, copied.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, started.Status)
	assert.Equal(t, "remote-simple-1", started.Models[0].ResultID)

	src, err := f.analyses.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, src.Status)
}
