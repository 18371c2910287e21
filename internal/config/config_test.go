package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "", cfg.Server.RoutePrefix)
	require.Equal(t, 3, cfg.Storage.MaxFailures)
	require.Equal(t, 600, cfg.HealthCheck.IntervalSec)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROUTE_PREFIX", "v1beta/")
	t.Setenv("GEMINI_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("MAX_FAILURES", "5")
	t.Setenv("RATE_LIMIT_ENABLED", "true")

	cfg := Load()
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "/v1beta", cfg.Server.RoutePrefix)
	require.Equal(t, []string{"k1", "k2", "k3"}, cfg.Storage.APIKeys)
	require.Equal(t, 5, cfg.Storage.MaxFailures)
	require.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "port: \"7000\"\nupstream_base_url: https://example.test\nmax_failures: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("PORT", "7100")

	cfg := LoadWithFile(path)
	require.Equal(t, "7100", cfg.Server.Port, "env overrides file")
	require.Equal(t, "https://example.test", cfg.Upstream.BaseURL)
	require.Equal(t, 9, cfg.Storage.MaxFailures)
}

func TestLoadWithMissingFile(t *testing.T) {
	cfg := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Equal(t, "8080", cfg.Server.Port)
}

func TestNormalizeRoutePrefix(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"v1beta":    "/v1beta",
		"/v1beta/":  "/v1beta",
		"//a//b///": "/a/b",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeRoutePrefix(in), "input %q", in)
	}
}

func TestCheckAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &Config{}
	cfg.Security.AdminKey = "plain"
	cfg.Security.AdminKeyHash = string(hash)

	require.True(t, CheckAdminKey(cfg, "plain"))
	require.True(t, CheckAdminKey(cfg, "sekrit"))
	require.False(t, CheckAdminKey(cfg, "nope"))
	require.False(t, CheckAdminKey(cfg, ""))
	require.False(t, CheckAdminKey(nil, "plain"))
}

func TestClientKeyValidator(t *testing.T) {
	cfg := &Config{}
	open := ClientKeyValidator(cfg)
	require.True(t, open("anything"), "empty key list disables auth")

	cfg.Security.ClientKeys = []string{"a", "b"}
	strict := ClientKeyValidator(cfg)
	require.True(t, strict("a"))
	require.True(t, strict("b"))
	require.False(t, strict("c"))
}
