package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://laudos.example.org
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, SourceAwards, cfg.Crawler.Source)
	require.Equal(t, 100, cfg.Crawler.MaxResults)
	require.Equal(t, 0.5, cfg.RateLimit.RPS)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	require.Equal(t, 25, cfg.Checkpoint.EveryItems)
	require.Equal(t, 1000, cfg.Fragment.Size)
	require.Equal(t, 200, cfg.Fragment.Overlap)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.True(t, cfg.Pipeline.FragmentText)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
crawler:
  source: catalog
  base_url: https://libros.example.org
  query: "derecho mercantil"
  max_results: 40
ratelimit:
  rps: 2
  burst: 4
retry:
  max_attempts: 5
checkpoint:
  backend: memory
storage:
  backend: memory
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, SourceCatalog, cfg.Crawler.Source)
	require.Equal(t, "derecho mercantil", cfg.Crawler.Query)
	require.Equal(t, 40, cfg.Crawler.MaxResults)
	require.Equal(t, 2.0, cfg.RateLimit.RPS)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, "memory", cfg.Checkpoint.Backend)
	require.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEXHARVEST_CRAWLER_MAX_RESULTS", "7")

	path := writeConfig(t, `
crawler:
  base_url: https://laudos.example.org
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Crawler.MaxResults)
}

func TestLoad_RequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
crawler:
  source: awards
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "base_url")
}

func TestLoad_RejectsUnknownSource(t *testing.T) {
	path := writeConfig(t, `
crawler:
  source: jurisprudencia
  base_url: https://example.org
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "crawler.source")
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://example.org
checkpoint:
  backend: redis
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checkpoint backend")
}

func TestLoad_PostgresBackendNeedsDSN(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://example.org
checkpoint:
  backend: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checkpoint.dsn")
}

func TestLoad_FragmentOverlapMustFitSize(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://example.org
fragment:
  size: 100
  overlap: 150
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fragment.overlap")
}
