package services_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/dukex/montracker/pkg/cache"
	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/graph"
	"github.com/dukex/montracker/pkg/mocks"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/persistence/file"
	"github.com/dukex/montracker/pkg/services"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	complexA int64 = 10
	complexB int64 = 11
	hiker    int64 = 20
	child    int64 = 21
)

// simpleTypes are the catalog ids of the seven simple model types.
var simpleTypes = []int64{1, 2, 3, 4, 5, 6, 7}

type fixture struct {
	p            *file.Persistence
	remote       *mocks.MockRemoteService
	bus          *mocks.MockEventBus
	status       *services.Status
	reconciler   *services.Reconciler
	orchestrator *services.Orchestrator
	synchronizer *services.Synchronizer
	actions      *services.Action
	analyses     *services.Analysis
	published    []eventbus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := discardLogger()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	ctx := t.Context()

	for _, id := range simpleTypes {
		require.NoError(t, p.Catalog().SaveModelType(ctx, &models.ModelType{ID: id, Name: fmt.Sprintf("simple-%d", id), Active: true}))
	}

	require.NoError(t, p.Catalog().SaveModelType(ctx, &models.ModelType{ID: complexA, Name: "complex-a", Complex: true, Active: true}))
	require.NoError(t, p.Catalog().SaveModelType(ctx, &models.ModelType{ID: complexB, Name: "complex-b", Complex: true, Active: true}))
	require.NoError(t, p.Catalog().SavePersonType(ctx, &models.PersonType{ID: hiker, Name: "hiker", Active: true}))
	require.NoError(t, p.Catalog().SavePersonType(ctx, &models.PersonType{ID: child, Name: "child", Active: true}))

	f := &fixture{
		p:      p,
		remote: &mocks.MockRemoteService{},
		bus:    &mocks.MockEventBus{},
	}

	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.published = append(f.published, args.Get(2).(eventbus.Event)) }).
		Return(nil).
		Maybe()

	f.status = services.NewStatus(p, cache.NewMemory(time.Minute), logger)
	f.reconciler = services.NewReconciler(p, f.status, 1, logger)
	f.orchestrator = services.NewOrchestrator(p, f.remote, f.status, f.bus, nil, logger)
	f.synchronizer = services.NewSynchronizer(p, f.remote, f.status, f.bus, nil, logger)
	f.actions = services.NewAction(p, f.status, f.orchestrator, f.bus, logger)
	f.analyses = services.NewAnalysis(p, f.status, f.reconciler, f.orchestrator, f.bus, logger)

	return f
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func weight(w int) *int {
	return &w
}

func ptr[T any](v T) *T {
	return &v
}

// newAction stores an action with a complete location.
func (f *fixture) newAction(t *testing.T) *models.Action {
	t.Helper()

	action := &models.Action{
		Name:         "Forest search",
		IPPLatitude:  ptr(54.68),
		IPPLongitude: ptr(25.27),
		RPLatitude:   ptr(54.70),
		RPLongitude:  ptr(25.30),
		LostTime:     time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.p.ActionRepository().Create(t.Context(), action))

	return action
}

func (f *fixture) newAnalysis(t *testing.T, action *models.Action) *models.Analysis {
	t.Helper()

	analysis := &models.Analysis{ActionID: action.ID, Name: "First pass"}
	require.NoError(t, f.p.AnalysisRepository().Create(t.Context(), analysis))

	return analysis
}

// simpleSet builds a desired set of the first n simple types at one weight.
func simpleSet(n int, w int) map[int64]*int {
	desired := make(map[int64]*int, n)
	for _, id := range simpleTypes[:n] {
		desired[id] = weight(w)
	}

	return desired
}

func with(desired map[int64]*int, typeIDs ...int64) map[int64]*int {
	out := make(map[int64]*int, len(desired)+len(typeIDs))
	for k, v := range desired {
		out[k] = v
	}

	for _, id := range typeIDs {
		out[id] = nil
	}

	return out
}

// committed loads the committed graph of an analysis, read only.
func (f *fixture) committed(t *testing.T, analysisID int64) *graph.Graph {
	t.Helper()

	ctx := t.Context()

	types, err := f.p.Catalog().ModelTypes(ctx)
	require.NoError(t, err)

	modelRows, err := f.p.ModelRepository().ByAnalysis(ctx, analysisID)
	require.NoError(t, err)

	weights, err := f.p.ModelRepository().Weights(ctx, analysisID)
	require.NoError(t, err)

	g, err := graph.New(nil, types, modelRows, weights)
	require.NoError(t, err)
	require.NoError(t, g.Check())

	return g
}

// setStatus overwrites the status and remote id of the models of the given types.
func (f *fixture) setStatus(t *testing.T, analysisID int64, status models.ModelStatus, typeIDs ...int64) {
	t.Helper()

	err := f.p.WithinAnalysis(t.Context(), analysisID, func(ctx context.Context, tx persistence.Tx) error {
		modelRows, err := tx.Models(ctx)
		if err != nil {
			return err
		}

		for _, m := range modelRows {
			if slices.Contains(typeIDs, m.ModelTypeID) {
				m.Status = status
				m.ResultID = fmt.Sprintf("r-%d", m.ID)

				if err := tx.UpdateModel(ctx, m); err != nil {
					return err
				}
			}
		}

		return nil
	})
	require.NoError(t, err)
}

func typeSet(g *graph.Graph) []int64 {
	var out []int64
	for _, m := range g.Models() {
		out = append(out, m.ModelTypeID)
	}

	slices.Sort(out)

	return out
}

// edgeSignature describes the topology with identifiers erased.
func edgeSignature(g *graph.Graph) []string {
	var out []string

	for _, edge := range g.Edges() {
		owner, _ := g.Model(edge.OwnerID)
		target, _ := g.Model(edge.TargetID)

		out = append(out, fmt.Sprintf("%s->%s:%d", g.Name(owner), g.Name(target), edge.Weight))
	}

	slices.Sort(out)

	return out
}
