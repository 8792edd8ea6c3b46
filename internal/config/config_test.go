package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeFlag(t *testing.T) {
	n, err := ParseNodeFlag("base=127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, NodeSpec{Alias: "base", Host: "127.0.0.1", Port: 9000}, n)
}

func TestParseNodeFlag_MissingEquals(t *testing.T) {
	_, err := ParseNodeFlag("base-127.0.0.1:9000")
	assert.Error(t, err)
}

func TestParseNodeFlag_BadPort(t *testing.T) {
	_, err := ParseNodeFlag("base=127.0.0.1:notaport")
	assert.Error(t, err)
}

func TestValidate_RequiresAtLeastOneNode(t *testing.T) {
	cfg := Defaults()
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}

func TestValidate_RejectsDuplicateAlias(t *testing.T) {
	cfg := Defaults()
	cfg.Nodes = []NodeSpec{
		{Alias: "base", Host: "127.0.0.1", Port: 9000},
		{Alias: "base", Host: "127.0.0.1", Port: 9001},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_RejectsNonPositiveTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Nodes = []NodeSpec{{Alias: "base", Host: "127.0.0.1", Port: 9000}}
	cfg.ConnectTimeoutSeconds = 0
	assert.Error(t, Validate(cfg))
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
nodes:
  - alias: base
    host: 127.0.0.1
    port: 9000
planner_url: "http://localhost:9500/plan"
telemetry: true
http_port: 9999
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "base", cfg.Nodes[0].Alias)
	assert.Equal(t, "http://localhost:9500/plan", cfg.PlannerURL)
	assert.True(t, cfg.EnableTelemetry)
	assert.Equal(t, 9999, cfg.HTTPPort)
	require.NoError(t, Validate(cfg))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
nodes:
  - alias: base
    host: 127.0.0.1
    port: 9000
planner_url: "http://file-planner/plan"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("DAEMON_PLANNER_URL", "http://env-planner/plan")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env-planner/plan", cfg.PlannerURL)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.ConnectTimeoutSeconds)
	assert.Equal(t, 4.0, cfg.StepTimeoutSeconds)
	assert.Equal(t, 8765, cfg.HTTPPort)
}
