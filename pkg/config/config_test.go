package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/montracker/pkg/config"
	"github.com/dukex/montracker/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() config.Config {
	cfg := config.Default()
	cfg.CalcServer.Address = "http://calc.local:8000"

	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{name: "defaults with a calc server", mutate: func(*config.Config) {}},
		{name: "missing calc server", mutate: func(c *config.Config) { c.CalcServer.Address = "" }, wantErr: true},
		{name: "unknown event bus", mutate: func(c *config.Config) { c.EventBus = "rabbitmq" }, wantErr: true},
		{name: "kafka without brokers", mutate: func(c *config.Config) { c.EventBus = "kafka" }, wantErr: true},
		{
			name: "kafka with brokers",
			mutate: func(c *config.Config) {
				c.EventBus = "kafka"
				c.KafkaBrokers = "localhost:9092"
			},
		},
		{name: "zero weight", mutate: func(c *config.Config) { c.DefaultWeight = 0 }, wantErr: true},
		{name: "sub-second poll interval", mutate: func(c *config.Config) { c.PollInterval = 10 * time.Millisecond }, wantErr: true},
		{name: "bad log level", mutate: func(c *config.Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "redis cache", mutate: func(c *config.Config) { c.CacheURL = "redis://localhost:6379/0" }},
		{name: "port out of range", mutate: func(c *config.Config) { c.Port = 70000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorker(t *testing.T) {
	shared := func(c *config.Config) {
		c.DatabaseURL = "postgres://montracker@localhost:5432/montracker"
		c.CacheURL = "redis://localhost:6379/0"
		c.EventBus = "kafka"
		c.KafkaBrokers = "localhost:9092"
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr error
	}{
		{name: "shared backends", mutate: shared},
		{name: "defaults", mutate: func(*config.Config) {}, wantErr: config.ErrNotShareable},
		{
			name: "file database",
			mutate: func(c *config.Config) {
				shared(c)
				c.DatabaseURL = "file:///var/lib/montracker"
			},
			wantErr: config.ErrNotShareable,
		},
		{
			name: "bare path database",
			mutate: func(c *config.Config) {
				shared(c)
				c.DatabaseURL = "./data"
			},
			wantErr: config.ErrNotShareable,
		},
		{
			name: "memory cache",
			mutate: func(c *config.Config) {
				shared(c)
				c.CacheURL = ""
			},
			wantErr: config.ErrNotShareable,
		},
		{
			name: "gochannel bus",
			mutate: func(c *config.Config) {
				shared(c)
				c.EventBus = "gochannel"
			},
			wantErr: config.ErrNotShareable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.ValidateWorker()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	cfg := validConfig()
	cfg.CalcServer.Address = ""
	shared(&cfg)
	assert.Error(t, cfg.ValidateWorker(), "the base constraints still apply")
}

func TestLoadCatalog_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_types:
  - id: 1
    name: linear_features
  - id: 2
    name: elevation
    active: false
  - id: 10
    name: combined
    complex: true
person_types:
  - id: 1
    name: hiker
`), 0o600))

	catalog, err := config.LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.ModelTypes, 3)

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(t.Context(), p.Catalog()))

	types, err := p.Catalog().ModelTypes(t.Context())
	require.NoError(t, err)
	require.Len(t, types, 3)

	byID := make(map[int64]bool)
	for _, mt := range types {
		byID[mt.ID] = mt.Active

		if mt.ID == 10 {
			assert.True(t, mt.Complex)
		}
	}

	assert.True(t, byID[1])
	assert.False(t, byID[2])

	people, err := p.Catalog().PersonTypes(t.Context())
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "hiker", people[0].Name)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "model_types: [: :"},
		{"missing name", "model_types:\n  - id: 1\n"},
		{"duplicate id", "model_types:\n  - id: 1\n    name: a\n  - id: 1\n    name: b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := config.LoadCatalog(path)
			assert.Error(t, err)
		})
	}

	_, err := config.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
