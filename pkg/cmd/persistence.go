// Package cmd builds the shared infrastructure of the montracker commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/persistence/file"
	"github.com/dukex/montracker/pkg/persistence/postgresql"
)

// persistenceProvider picks the backend from the URL scheme. Bare paths use the file backend.
func persistenceProvider(databaseURL string) string {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgresql"
	default:
		return "file"
	}
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch persistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql persistence: %w", err)
		}

		return p, nil
	default:
		p, err := file.NewPersistence(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open file persistence: %w", err)
		}

		return p, nil
	}
}
