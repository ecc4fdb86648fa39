package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aethergate"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// missingEnv points Load at a .env that does not exist so a developer's
// local file never leaks into a test.
func missingEnv(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	return ""
}

func TestLoadDefaults(t *testing.T) {
	s, _, err := Load(Options{EnvFile: missingEnv(t)})
	require.NoError(t, err)

	def := aethergate.DefaultConfig()
	assert.Equal(t, ":8080", s.Listen)
	assert.Equal(t, def.Cache.TTL, s.Cache.TTL)
	assert.Equal(t, def.Cache.MaxSize, s.Cache.MaxSize)
	assert.Equal(t, def.RateLimit.Window, s.RateLimit.Window)
	assert.Equal(t, def.Retry.MaxRetries, s.Retry.MaxRetries)
	assert.Equal(t, []string{"admin"}, s.Gateway.AdminRoles)
	assert.Equal(t, "info", s.Log.Level)
	assert.False(t, s.Hooks.BlockIfFull)
	assert.Empty(t, s.Metrics.OTel.Exporter)
	assert.Equal(t, 30*time.Second, s.Metrics.OTel.Interval)
	assert.Equal(t, "aethergate", s.Metrics.OTel.ServiceName)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeFile(t, "aethergate.yaml", `
listen: ":9090"
upstream: "http://127.0.0.1:3000"
base_url: "https://id.example.com"
client_id: "gateway"
system_key: "sk-1"
mfa:
  contexts: ["admin", "console"]
cache:
  ttl: 2m
  max_size: 50
gateway:
  roles: ["user", "ops"]
  require_mfa: true
log:
  level: debug
redis:
  embedded: true
`)

	s, _, err := Load(Options{ConfigFile: path, EnvFile: missingEnv(t)})
	require.NoError(t, err)

	assert.Equal(t, ":9090", s.Listen)
	assert.Equal(t, "http://127.0.0.1:3000", s.Upstream)
	assert.Equal(t, []string{"admin", "console"}, s.MFA.Contexts)
	assert.Equal(t, 2*time.Minute, s.Cache.TTL)
	assert.Equal(t, 50, s.Cache.MaxSize)
	assert.Equal(t, []string{"user", "ops"}, s.Gateway.Roles)
	assert.True(t, s.Gateway.RequireMFA)
	assert.Equal(t, "debug", s.Log.Level)
	assert.True(t, s.Redis.Embedded)
	assert.NoError(t, s.Validate())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "aethergate.yaml", "client_id: from-file\ncache:\n  ttl: 2m\n")
	t.Setenv("AETHERGATE_CLIENT_ID", "from-env")
	t.Setenv("AETHERGATE_CACHE_TTL", "45s")

	s, _, err := Load(Options{ConfigFile: path, EnvFile: missingEnv(t)})
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.ClientID)
	assert.Equal(t, 45*time.Second, s.Cache.TTL)
}

func TestLoadReadsEnvFile(t *testing.T) {
	envFile := writeFile(t, "gateway.env", "AETHERGATE_BASE_URL=https://dotenv.example.com\n")
	t.Cleanup(func() { _ = os.Unsetenv("AETHERGATE_BASE_URL") })

	s, _, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example.com", s.BaseURL)
}

func TestLoadFailsOnExplicitMissingFiles(t *testing.T) {
	_, _, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.Error(t, err)

	_, _, err = Load(Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"), EnvFile: missingEnv(t)})
	assert.Error(t, err)
}

func TestSettingsConfigNormalizes(t *testing.T) {
	t.Setenv("AETHERGATE_BASE_URL", "https://id.example.com")
	t.Setenv("AETHERGATE_CLIENT_ID", "gateway")
	t.Setenv("AETHERGATE_MFA_ALL", "true")

	s, _, err := Load(Options{EnvFile: missingEnv(t)})
	require.NoError(t, err)

	vc, err := aethergate.NormalizeConfig(s.Config())
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com", vc.BaseURL())
	assert.True(t, vc.RequiresMFA(aethergate.ContextUser))
	assert.Equal(t, aethergate.DefaultCacheTTL, vc.Cache().TTL)
}

func TestValidate(t *testing.T) {
	s := &Settings{Listen: ":8080", Upstream: "http://app"}
	assert.NoError(t, s.Validate())

	s.SharedCache.Enabled = true
	assert.Error(t, s.Validate())

	s.Redis.Addr = "127.0.0.1:6379"
	assert.NoError(t, s.Validate())

	assert.Error(t, (&Settings{Listen: ":8080"}).Validate())
	assert.Error(t, (&Settings{Upstream: "http://app"}).Validate())
}

func TestValidateOTelExporter(t *testing.T) {
	s := &Settings{Listen: ":8080", Upstream: "http://app"}

	s.Metrics.OTel.Exporter = OTelExporterStdout
	assert.NoError(t, s.Validate())

	s.Metrics.OTel.Exporter = OTelExporterOTLP
	assert.Error(t, s.Validate(), "otlp needs an endpoint")
	s.Metrics.OTel.Endpoint = "collector:4317"
	assert.NoError(t, s.Validate())

	s.Metrics.OTel.Exporter = "zipkin"
	assert.Error(t, s.Validate())
}

func TestRedactedMasksSecrets(t *testing.T) {
	t.Setenv("AETHERGATE_SYSTEM_KEY", "sk-secret")
	t.Setenv("AETHERGATE_REDIS_PASSWORD", "hunter2")

	_, v, err := Load(Options{EnvFile: missingEnv(t)})
	require.NoError(t, err)

	all := Redacted(v)
	assert.Equal(t, "[redacted]", all["system_key"])
	assert.Equal(t, "[redacted]", all["redis"].(map[string]any)["password"])
}
