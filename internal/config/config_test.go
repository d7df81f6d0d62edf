package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Crawl.MaxPages)
	assert.Equal(t, 2000, cfg.Crawl.MaxDocuments)
	assert.Equal(t, 0.75, cfg.Extract.EarlyStopWithLLM)
	assert.Equal(t, 0.85, cfg.Extract.EarlyStopHeuristic)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 0.7, cfg.LLM.ConfidenceThreshold)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMUNE_STORE_DRIVER", "postgres")
	t.Setenv("COMUNE_CRAWL_MAX_PAGES", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7, cfg.Crawl.MaxPages)
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{Comune: ComuneConfig{Name: "Firenze", Workspace: "/ws"}}

	assert.Equal(t, filepath.Join("/ws", "data", "firenze"), cfg.DataDir())
	assert.Equal(t, filepath.Join("/ws", "data", "firenze", "catalog.sqlite"), cfg.CatalogPath())
	assert.Equal(t, filepath.Join("/ws", "data", "firenze", "index"), cfg.IndexDir())
	assert.Equal(t, filepath.Join("/ws", "data", "firenze", "raw"), cfg.RawDir())
}
