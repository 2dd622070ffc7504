package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverride(t *testing.T) {
	t.Setenv("RUNE_NODE_ALIAS", "desk-01")
	t.Setenv("RUNE_HTTP_PORT", "9100")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "desk-01", cfg.NodeAlias)
	require.Equal(t, 9100, cfg.HTTPPort)
	require.True(t, cfg.DiscoveryEnabled)
}

func TestLoadMissingYamlIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/rune.yaml")
	require.NoError(t, err)
	require.Equal(t, "cpu", cfg.AnalysisDevice)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.WriteFile(".env", []byte("RUNE_NODE_ALIAS=from-dotenv\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.NodeAlias)
}
