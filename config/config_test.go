package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", writeFile(t, `
http:
  addr: ":9000"
signal:
  nodeId: node-a
  participantTTL: 2h
store:
  backend: redis
redis:
  addr: "localhost:6379"
`))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Signal.Capacity)
	assert.Equal(t, 2*time.Hour, cfg.Signal.TTL())
	assert.Equal(t, 5*time.Second, cfg.Signal.WriteTimeoutDur())
	assert.Equal(t, "signal:", cfg.Redis.Prefix)
	assert.Equal(t, "signal-service", cfg.Logging.Service)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", writeFile(t, "store:\n  backend: memory\n"))
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://x")
	t.Setenv("ROOM_CAPACITY", "4")
	t.Setenv("NODE_ID", "n2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Signal.Capacity)
	assert.Equal(t, "n2", cfg.Signal.NodeID)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NODE_ID=from-dotenv\n"), 0o600))
	t.Setenv("CONFIG_PATH", writeFile(t, "{}\n"))
	// godotenv не перезаписывает уже заданные переменные
	t.Setenv("NODE_ID", "")
	os.Unsetenv("NODE_ID")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Signal.NodeID)
	os.Unsetenv("NODE_ID")
}

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"postgres without dsn", Config{Store: Store{Backend: "postgres"}}},
		{"redis without addr", Config{Store: Store{Backend: "redis"}}},
		{"bus without addr", Config{Redis: Redis{Bus: true}}},
		{"unknown backend", Config{Store: Store{Backend: "etcd"}}},
		{"dotted node id", Config{Signal: Signal{NodeID: "a.b"}}},
		{"negative capacity", Config{Signal: Signal{Capacity: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			assert.Error(t, cfg.validate())
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, time.Second, parseDurationOr(time.Second, ""))
	assert.Equal(t, time.Second, parseDurationOr(time.Second, "-5s"))
	assert.Equal(t, 3*time.Minute, parseDurationOr(time.Second, "3m"))
}
