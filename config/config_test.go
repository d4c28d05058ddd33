package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mef", cfg.AppName)
	assert.Equal(t, "bolt", cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.RedirectMaxDepth)
	assert.Equal(t, 1, cfg.AssociationMatchThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.HarvestSpan())
}

func TestLoadOverrides(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "durations and ints",
			env:  map[string]string{"LOCK_TTL": "5s", "OPS_PORT": "9000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5*time.Second, cfg.LockTTL)
				assert.Equal(t, 9000, cfg.OpsPort)
			},
		},
		{
			name: "empty value keeps the default",
			env:  map[string]string{"APP_NAME": ""},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "mef", cfg.AppName)
			},
		},
		{name: "malformed int", env: map[string]string{"REDIS_DB": "zero"}, wantErr: true},
		{name: "malformed duration", env: map[string]string{"LOCK_TTL": "soon"}, wantErr: true},
		{name: "out of range", env: map[string]string{"OPS_PORT": "70000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("INDEX_DRIVER", "elastic")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadSources(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		sources, err := LoadSources("")
		require.NoError(t, err)
		_, feed, ok := sources.Feed(models.SourceIdRef, models.KindConcepts)
		require.True(t, ok)
		assert.Equal(t, "marc-xml", feed.MetadataPrefix)
		_, _, ok = sources.Feed(models.SourceRERO, models.KindPlaces)
		assert.False(t, ok)
	})

	t.Run("override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sources.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
sources:
  rero:
    endpoint: http://localhost:8080/oai
    repository: test
    kinds:
      agents:
        metadata_prefix: marc21
        sets: [persons]
`), 0o600))

		sources, err := LoadSources(path)
		require.NoError(t, err)
		sc, feed, ok := sources.Feed(models.SourceRERO, models.KindAgents)
		require.True(t, ok)
		assert.Equal(t, "http://localhost:8080/oai", sc.Endpoint)
		assert.Equal(t, []string{"persons"}, feed.Sets)
		_, _, ok = sources.Feed(models.SourceGND, models.KindAgents)
		assert.True(t, ok)
	})

	t.Run("unknown source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sources.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sources:\n  bnf:\n    endpoint: http://x\n"), 0o600))
		_, err := LoadSources(path)
		assert.Error(t, err)
	})
}
