package services

import (
	"context"

	"github.com/dukex/montracker/pkg/calcserver"
)

// RemoteService is the calculation service as seen by the orchestrator and
// the synchronizer. calcserver.Client implements it.
type RemoteService interface {
	SubmitSimple(ctx context.Context, batch calcserver.SimpleBatch) (map[string]string, error)
	SubmitComplex(ctx context.Context, batch calcserver.ComplexBatch) (map[string]string, error)
	Status(ctx context.Context, remoteID string) (*calcserver.Result, error)
	Cancel(ctx context.Context, remoteID string) error
}

var _ RemoteService = (*calcserver.Client)(nil)
