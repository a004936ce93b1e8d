package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/montracker/pkg/config"
	"github.com/dukex/montracker/pkg/log"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

const testCatalog = `
model_types:
  - id: 1
    name: track-offset
  - id: 2
    name: elevation
  - id: 10
    name: combined
    complex: true
person_types:
  - id: 20
    name: hiker
`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o600))

	cfg := config.Default()
	cfg.DatabaseURL = "file://" + filepath.Join(dir, "data")
	cfg.CatalogPath = catalogPath
	cfg.CalcServer.Address = "http://127.0.0.1:1"
	cfg.LogLevel = "error"

	rt, err := newRuntime(t.Context(), cfg, log.WithModule("api_test"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, rt.Close(context.Background()))
	})

	return NewAPI(rt).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Montracker API", body)
}

func TestAPI_HealthChecks(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			status, body := get(t, app, path)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "OK", body)
		})
	}

	status, body := get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Montracker API is healthy")
}

func TestAPI_CatalogIsSeeded(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/api/v1/model-types")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "track-offset")
	assert.Contains(t, body, "combined")

	status, body = get(t, app, "/api/v1/person-types")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "hiker")
}

func TestAPI_EmptyActions(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/api/v1/actions")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"actions":[],"total_count":0}`, body)
}

func TestNewRuntime_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = "file://" + t.TempDir()

	_, err := newRuntime(t.Context(), cfg, log.WithModule("api_test"))
	require.Error(t, err, "calculation service address is required")
}

func TestWorkerCommands_RejectProcessLocalBackends(t *testing.T) {
	for _, name := range []string{"poll", "sweep"} {
		t.Run(name, func(t *testing.T) {
			root := &cli.Command{
				Name:     "montracker",
				Flags:    flags(),
				Writer:   io.Discard,
				Commands: []*cli.Command{PollCommand(), SweepCommand()},
			}

			err := root.Run(t.Context(), []string{
				"montracker",
				"--database-url", "file://" + t.TempDir(),
				"--calc-server", "http://127.0.0.1:1",
				name,
			})
			require.ErrorIs(t, err, config.ErrNotShareable)
		})
	}
}
