package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/montracker/pkg/calcserver"
	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/graph"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/otelhelper"
	"github.com/dukex/montracker/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	PhaseSimple  = "simple"
	PhaseComplex = "complex"
)

// Orchestrator submits the models of an analysis to the calculation service,
// simple models first and complex models on a later call.
type Orchestrator struct {
	persistence persistence.Persistence
	remote      RemoteService
	status      *Status
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewOrchestrator(
	p persistence.Persistence,
	remote RemoteService,
	status *Status,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Orchestrator {
	if tracer == nil {
		tracer = otelhelper.Noop("orchestrator")
	}

	return &Orchestrator{
		persistence: p,
		remote:      remote,
		status:      status,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "orchestrator"),
	}
}

// readiness is what an analysis needs before anything is submitted.
type readiness struct {
	analysis *models.Analysis
	location models.Location
	profiles map[string]int
	graph    *graph.Graph
}

// AssertReady checks that the analysis can be submitted.
func (o *Orchestrator) AssertReady(ctx context.Context, analysisID int64) error {
	types, personTypes, err := o.catalog(ctx)
	if err != nil {
		return err
	}

	return o.persistence.WithinAnalysis(ctx, analysisID, func(ctx context.Context, tx persistence.Tx) error {
		_, err := assertReady(ctx, tx, types, personTypes)

		return err
	})
}

func assertReady(
	ctx context.Context,
	tx persistence.Tx,
	types []*models.ModelType,
	personTypes map[int64]string,
) (*readiness, error) {
	analysis, err := tx.Analysis(ctx)
	if err != nil {
		return nil, err
	}

	action, err := tx.Action(ctx)
	if err != nil {
		return nil, err
	}

	g, err := graph.Load(ctx, tx, types)
	if err != nil {
		return nil, err
	}

	profileRows, err := tx.Profiles(ctx)
	if err != nil {
		return nil, err
	}

	r := &readiness{
		analysis: analysis,
		location: analysis.Resolve(action),
		profiles: make(map[string]int, len(profileRows)),
		graph:    g,
	}

	for _, p := range profileRows {
		r.profiles[personTypes[p.PersonTypeID]] = p.Weight
	}

	var missing []string

	if r.location.IPP == nil {
		missing = append(missing, "ipp")
	}

	if r.location.RP == nil {
		missing = append(missing, "rp")
	}

	if r.location.LostTime == nil {
		missing = append(missing, "lost_time")
	}

	if len(profileRows) == 0 {
		missing = append(missing, "profiles")
	}

	if len(g.Simple()) == 0 {
		missing = append(missing, "simple models")
	}

	if len(missing) > 0 {
		return nil, &ServiceError{
			Op:      "AssertReady",
			Code:    "INCOMPLETE_DATA",
			Message: "missing " + strings.Join(missing, ", "),
			Err:     ErrIncompleteData,
		}
	}

	return r, nil
}

// Start submits the next phase of the analysis. The remote call happens inside
// the unit of work, so a failed submission commits nothing.
func (o *Orchestrator) Start(ctx context.Context, analysisID int64) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.start",
		attribute.Int64(otelhelper.AnalysisIDKey, analysisID))
	defer span.End()

	types, personTypes, err := o.catalog(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	var submitted *events.AnalysisSubmitted

	err = o.persistence.WithinAnalysis(ctx, analysisID, func(ctx context.Context, tx persistence.Tx) error {
		ready, err := assertReady(ctx, tx, types, personTypes)
		if err != nil {
			return err
		}

		g := ready.graph

		var (
			phase string
			batch []*models.Model
			ids   map[string]string
		)

		switch {
		case anyDraft(g.Simple()):
			phase, batch = PhaseSimple, g.Simple()
			ids, err = o.remote.SubmitSimple(ctx, simpleBatch(ready))
		case anyDraft(g.Complex()):
			phase, batch = PhaseComplex, g.Complex()

			var payload calcserver.ComplexBatch

			payload, err = complexBatch(g)
			if err == nil {
				ids, err = o.remote.SubmitComplex(ctx, payload)
			}
		default:
			return conflict("Start", models.Aggregate(statusesOf(g.Models())...))
		}

		if err != nil {
			return err
		}

		names := make([]string, 0, len(batch))

		for _, m := range batch {
			name := g.Name(m)
			m.ResultID = ids[name]
			m.Status = models.StatusWaiting
			names = append(names, name)

			if err := tx.UpdateModel(ctx, m); err != nil {
				return err
			}
		}

		submitted = &events.AnalysisSubmitted{
			BaseEvent: events.NewBaseEvent(events.AnalysisSubmittedEvent, ready.analysis.ActionID, analysisID),
			Phase:     phase,
			Models:    names,
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	o.status.Invalidate(ctx, submitted.ActionID, analysisID)
	publish(ctx, o.logger, o.publisher, fmt.Sprint(analysisID), submitted)

	o.logger.InfoContext(ctx, "Submitted analysis",
		"analysis_id", analysisID, "phase", submitted.Phase, "models", submitted.Models)

	return nil
}

// Cancel asks the calculation service to drop every in-flight model of a
// deleted analysis. It is best effort: failures are logged and not counted.
func (o *Orchestrator) Cancel(ctx context.Context, analysisID int64) (int, error) {
	modelRows, err := o.persistence.ModelRepository().ByAnalysis(ctx, analysisID)
	if err != nil {
		return 0, fmt.Errorf("failed to load models of analysis %d: %w", analysisID, err)
	}

	cancelled := 0

	for _, m := range modelRows {
		remoteID := m.RemoteID()
		if remoteID == "" || !m.Status.InFlight() {
			continue
		}

		err := o.remote.Cancel(ctx, remoteID)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to cancel remote computation",
				"analysis_id", analysisID, "model_id", m.ID, "remote_id", remoteID, "error", err)

			continue
		}

		cancelled++
	}

	return cancelled, nil
}

func simpleBatch(r *readiness) calcserver.SimpleBatch {
	batch := calcserver.SimpleBatch{
		Profiles: r.profiles,
		IPP:      calcserver.Coordinates{Longitude: r.location.IPP.Longitude, Latitude: r.location.IPP.Latitude},
		RP:       calcserver.Coordinates{Longitude: r.location.RP.Longitude, Latitude: r.location.RP.Latitude},
	}

	for _, m := range r.graph.Simple() {
		batch.Models = append(batch.Models, r.graph.Name(m))
	}

	return batch
}

// complexBatch maps every complex model to the remote ids and weights of the
// simple models feeding it.
func complexBatch(g *graph.Graph) (calcserver.ComplexBatch, error) {
	batch := calcserver.ComplexBatch{
		ModelWeights: make(map[string]map[string]calcserver.Contribution),
	}

	for _, m := range g.Complex() {
		name := g.Name(m)
		contributions := make(map[string]calcserver.Contribution)

		for _, edge := range g.Incoming(m.ID) {
			owner, ok := g.Model(edge.OwnerID)
			if !ok {
				return batch, fmt.Errorf("edge %d has no owner: %w", edge.ID, graph.ErrInvariantViolation)
			}

			contributions[g.Name(owner)] = calcserver.Contribution{ID: owner.RemoteID(), Weight: edge.Weight}
		}

		batch.ModelWeights[name] = contributions
		batch.ComplexAnalyses = append(batch.ComplexAnalyses, name)
	}

	return batch, nil
}

func (o *Orchestrator) catalog(ctx context.Context) ([]*models.ModelType, map[int64]string, error) {
	types, err := o.persistence.Catalog().ModelTypes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model types: %w", err)
	}

	personTypes, err := o.persistence.Catalog().PersonTypes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load person types: %w", err)
	}

	names := make(map[int64]string, len(personTypes))
	for _, pt := range personTypes {
		names[pt.ID] = pt.Name
	}

	return types, names, nil
}

func anyDraft(modelRows []*models.Model) bool {
	for _, m := range modelRows {
		if m.Status == models.StatusDraft {
			return true
		}
	}

	return false
}

func statusesOf(modelRows []*models.Model) []models.ModelStatus {
	statuses := make([]models.ModelStatus, len(modelRows))
	for i, m := range modelRows {
		statuses[i] = m.Status
	}

	return statuses
}
