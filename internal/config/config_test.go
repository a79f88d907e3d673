package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagstore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "scene.db", cfg.Scene.Path)
	assert.True(t, cfg.Scene.Exclusive)
	assert.True(t, cfg.Search.UserDefinedOnly)
	assert.True(t, cfg.Search.Exact)
	assert.Equal(t, "fail", cfg.Resolve.Policy)
	assert.Equal(t, "tagsMetaData", cfg.Metadata.Attribute)
	assert.Equal(t, ":50051", cfg.Server.GrpcAddr)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[scene]
path = "shot010.db"

[catalogs]
files = ["studio.yaml", "show.yaml"]
departments = ["rig"]

[resolve]
policy = "first"

[metadata]
user = "rigger"
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "shot010.db", cfg.Scene.Path)
	assert.Equal(t, []string{"studio.yaml", "show.yaml"}, cfg.Catalogs.Files)
	assert.Equal(t, []string{"rig"}, cfg.Catalogs.Departments)
	assert.Equal(t, "first", cfg.Resolve.Policy)
	assert.Equal(t, "rigger", cfg.Metadata.User)
	assert.True(t, cfg.Search.Exact, "unset keys keep their defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[resolve]\npolicy = \"first\"\n")
	t.Setenv("TAGSTORE_RESOLVE_POLICY", "prompt")
	t.Setenv("TAGSTORE_SERVER_METRICS_PORT", "9191")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "prompt", cfg.Resolve.Policy)
	assert.Equal(t, 9191, cfg.Server.MetricsPort)
}

func TestMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.toml")
}

func TestValidate(t *testing.T) {
	isolate(t)
	cases := map[string]string{
		"policy":   "[resolve]\npolicy = \"random\"\n",
		"level":    "[logging]\nlevel = \"loud\"\n",
		"port":     "[server]\nmetrics_port = 70000\n",
		"ttl":      "[search]\ncache_ttl_seconds = -1\n",
		"attrname": "[metadata]\nattribute = \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
