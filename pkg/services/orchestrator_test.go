package services_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/montracker/pkg/calcserver"
	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ready stores an analysis with profiles and the desired models.
func (f *fixture) ready(t *testing.T, desired map[int64]*int) *models.Analysis {
	t.Helper()

	analysis := f.newAnalysis(t, f.newAction(t))

	require.NoError(t, f.reconciler.Reconcile(t.Context(), analysis.ID, desired))
	require.NoError(t, f.reconciler.ReconcileProfiles(t.Context(), analysis.ID, map[int64]int{hiker: 3, child: 1}))

	return analysis
}

func remoteIDs(names ...string) map[string]string {
	ids := make(map[string]string, len(names))
	for _, name := range names {
		ids[name] = "remote-" + name
	}

	return ids
}

func TestOrchestrator_StartSubmitsSimpleModelsInOneCall(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, simpleSet(7, 1))

	names := make([]string, 0, len(simpleTypes))
	for _, id := range simpleTypes {
		names = append(names, fmt.Sprintf("simple-%d", id))
	}

	f.remote.On("SubmitSimple", mock.Anything, mock.MatchedBy(func(batch calcserver.SimpleBatch) bool {
		return assert.ObjectsAreEqual(names, batch.Models) &&
			batch.Profiles["hiker"] == 3 && batch.Profiles["child"] == 1 &&
			batch.IPP == calcserver.Coordinates{Longitude: 25.27, Latitude: 54.68} &&
			batch.RP == calcserver.Coordinates{Longitude: 25.30, Latitude: 54.70}
	})).Return(remoteIDs(names...), nil).Once()

	require.NoError(t, f.orchestrator.Start(ctx, analysis.ID))
	f.remote.AssertNumberOfCalls(t, "SubmitSimple", 1)

	g := f.committed(t, analysis.ID)
	for _, m := range g.Models() {
		assert.Equal(t, models.StatusWaiting, m.Status)
		assert.Equal(t, "remote-"+g.Name(m), m.ResultID)
	}

	status, err := f.status.Analysis(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, status)

	require.Len(t, f.published, 1)
	submitted, ok := f.published[0].(*events.AnalysisSubmitted)
	require.True(t, ok)
	assert.Equal(t, services.PhaseSimple, submitted.Phase)
	assert.Equal(t, names, submitted.Models)
	assert.Equal(t, analysis.ID, submitted.AnalysisID)
}

func TestOrchestrator_StartRejectsIncompleteAnalyses(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) int64
		missing string
	}{
		{
			name: "no simple models",
			prepare: func(t *testing.T, f *fixture) int64 {
				return f.ready(t, map[int64]*int{}).ID
			},
			missing: "simple models",
		},
		{
			name: "no profiles",
			prepare: func(t *testing.T, f *fixture) int64 {
				analysis := f.newAnalysis(t, f.newAction(t))
				require.NoError(t, f.reconciler.Reconcile(t.Context(), analysis.ID, simpleSet(2, 1)))

				return analysis.ID
			},
			missing: "profiles",
		},
		{
			name: "no location anywhere",
			prepare: func(t *testing.T, f *fixture) int64 {
				action := &models.Action{Name: "Unplaced", LostTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
				require.NoError(t, f.p.ActionRepository().Create(t.Context(), action))

				analysis := f.newAnalysis(t, action)
				require.NoError(t, f.reconciler.Reconcile(t.Context(), analysis.ID, simpleSet(2, 1)))
				require.NoError(t, f.reconciler.ReconcileProfiles(t.Context(), analysis.ID, map[int64]int{hiker: 1}))

				return analysis.ID
			},
			missing: "ipp, rp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := tt.prepare(t, f)

			err := f.orchestrator.AssertReady(t.Context(), id)
			require.ErrorIs(t, err, services.ErrIncompleteData)
			assert.Contains(t, err.Error(), tt.missing)

			err = f.orchestrator.Start(t.Context(), id)
			require.ErrorIs(t, err, services.ErrIncompleteData)
			assert.True(t, services.IsIncompleteData(err))

			f.remote.AssertNotCalled(t, "SubmitSimple", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_AnalysisLocationOverridesAction(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	action := &models.Action{Name: "Partial", LostTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, f.p.ActionRepository().Create(ctx, action))

	analysis := &models.Analysis{
		ActionID:     action.ID,
		Name:         "Own location",
		IPPLatitude:  ptr(1.0),
		IPPLongitude: ptr(2.0),
		RPLatitude:   ptr(3.0),
		RPLongitude:  ptr(4.0),
	}
	require.NoError(t, f.p.AnalysisRepository().Create(ctx, analysis))
	require.NoError(t, f.reconciler.Reconcile(ctx, analysis.ID, simpleSet(1, 1)))
	require.NoError(t, f.reconciler.ReconcileProfiles(ctx, analysis.ID, map[int64]int{hiker: 1}))

	f.remote.On("SubmitSimple", mock.Anything, mock.MatchedBy(func(batch calcserver.SimpleBatch) bool {
		return batch.IPP == calcserver.Coordinates{Longitude: 2, Latitude: 1} &&
			batch.RP == calcserver.Coordinates{Longitude: 4, Latitude: 3}
	})).Return(remoteIDs("simple-1"), nil).Once()

	require.NoError(t, f.orchestrator.Start(ctx, analysis.ID))
	f.remote.AssertExpectations(t)
}

func TestOrchestrator_FailedSubmissionLeavesModelsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, simpleSet(3, 1))

	f.remote.On("SubmitSimple", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("submit: %w", calcserver.ErrServiceUnavailable)).Once()

	err := f.orchestrator.Start(ctx, analysis.ID)
	require.Error(t, err)
	assert.True(t, calcserver.IsServiceUnavailable(err))

	for _, m := range f.committed(t, analysis.ID).Models() {
		assert.Equal(t, models.StatusDraft, m.Status)
		assert.Empty(t, m.ResultID)
	}

	assert.Empty(t, f.published)
}

func TestOrchestrator_ComplexPhase(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, with(map[int64]*int{1: weight(2), 2: weight(5)}, complexA))

	f.remote.On("SubmitSimple", mock.Anything, mock.MatchedBy(func(batch calcserver.SimpleBatch) bool {
		return assert.ObjectsAreEqual([]string{"simple-1", "simple-2"}, batch.Models)
	})).Return(remoteIDs("simple-1", "simple-2"), nil).Once()

	require.NoError(t, f.orchestrator.Start(ctx, analysis.ID))

	g := f.committed(t, analysis.ID)
	a, _ := g.ByType(complexA)
	assert.Equal(t, models.StatusDraft, a.Status)

	expected := calcserver.ComplexBatch{
		ModelWeights: map[string]map[string]calcserver.Contribution{
			"complex-a": {
				"simple-1": {ID: "remote-simple-1", Weight: 2},
				"simple-2": {ID: "remote-simple-2", Weight: 5},
			},
		},
		ComplexAnalyses: []string{"complex-a"},
	}
	f.remote.On("SubmitComplex", mock.Anything, expected).Return(remoteIDs("complex-a"), nil).Once()

	require.NoError(t, f.orchestrator.Start(ctx, analysis.ID), "complex models go out while simple ones are in flight")
	f.remote.AssertExpectations(t)

	a, _ = f.committed(t, analysis.ID).ByType(complexA)
	assert.Equal(t, models.StatusWaiting, a.Status)
	assert.Equal(t, "remote-complex-a", a.ResultID)

	err := f.orchestrator.Start(ctx, analysis.ID)
	require.ErrorIs(t, err, services.ErrStateConflict)
}

func TestOrchestrator_StartWithNothingToSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, simpleSet(2, 1))

	f.setStatus(t, analysis.ID, models.StatusFinished, 1, 2)

	err := f.orchestrator.Start(ctx, analysis.ID)
	require.ErrorIs(t, err, services.ErrStateConflict)
	assert.True(t, services.IsConflictError(err))

	f.remote.AssertNotCalled(t, "SubmitSimple", mock.Anything, mock.Anything)
	f.remote.AssertNotCalled(t, "SubmitComplex", mock.Anything, mock.Anything)
}

func TestOrchestrator_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	analysis := f.ready(t, simpleSet(4, 1))

	f.setStatus(t, analysis.ID, models.StatusWaiting, 1, 2, 3)
	f.setStatus(t, analysis.ID, models.StatusFinished, 3)

	g := f.committed(t, analysis.ID)
	first, _ := g.ByType(1)
	second, _ := g.ByType(2)

	f.remote.On("Cancel", mock.Anything, first.ResultID).Return(nil).Once()
	f.remote.On("Cancel", mock.Anything, second.ResultID).Return(errors.New("gone")).Once()

	cancelled, err := f.orchestrator.Cancel(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	f.remote.AssertExpectations(t)
	f.remote.AssertNumberOfCalls(t, "Cancel", 2)
}
