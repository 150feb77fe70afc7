package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
server:
  host: "127.0.0.1"
  port: 9090

database:
  driver: "postgres"
  dsn: "host=localhost dbname=botmarket_test"

nats:
  url: "nats://localhost:4222"
  deposit_subject: "botmarket.chain.*.deposit"
  event_prefix: "botmarket"

auth:
  jwtSecret: "test-secret"
  tokenTtlMinutes: 60

engine:
  ownerAddress: "0x00000000000000000000000000000000000000a1"
  treasuryAddress: "0x00000000000000000000000000000000000000b2"
  defaultFeeBps: 250

tokens:
  - symbol: "USDT"
    name: "Tether USD"
    address: "0xdAC17F958D2ee523a2206206994597C13D831ec7"
    decimals: 6
    networks: ["ethereum"]
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	previous := AppConfig
	t.Cleanup(func() { AppConfig = previous })

	require.NoError(t, LoadConfig(writeTestConfig(t, testConfigYAML)))

	assert.Equal(t, "127.0.0.1", AppConfig.Server.Host)
	assert.Equal(t, 9090, AppConfig.Server.Port)
	assert.Equal(t, "host=localhost dbname=botmarket_test", AppConfig.Database.DSN)
	assert.Equal(t, "botmarket", AppConfig.NATS.EventPrefix)
	assert.Equal(t, int64(250), AppConfig.Engine.DefaultFeeBps)
	assert.Len(t, AppConfig.Tokens, 1)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	previous := AppConfig
	t.Cleanup(func() { AppConfig = previous })

	t.Setenv("DATABASE_DSN", "host=elsewhere dbname=override")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("ENGINE_OWNER_ADDRESS", "0x00000000000000000000000000000000000000f6")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	require.NoError(t, LoadConfig(writeTestConfig(t, testConfigYAML)))

	assert.Equal(t, "host=elsewhere dbname=override", AppConfig.Database.DSN)
	assert.Equal(t, "env-secret", AppConfig.Auth.JWTSecret)
	assert.Equal(t, "0x00000000000000000000000000000000000000f6", AppConfig.Engine.OwnerAddress)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, AppConfig.CORS.AllowedOrigins)
}

func TestLoadConfigValidation(t *testing.T) {
	previous := AppConfig
	t.Cleanup(func() { AppConfig = previous })

	missingOwner := `
database:
  dsn: "host=localhost"
auth:
  jwtSecret: "s"
engine:
  treasuryAddress: "0x00000000000000000000000000000000000000b2"
`
	err := LoadConfig(writeTestConfig(t, missingOwner))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownerAddress")

	err = LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestFindToken(t *testing.T) {
	previous := AppConfig
	t.Cleanup(func() { AppConfig = previous })

	require.NoError(t, LoadConfig(writeTestConfig(t, testConfigYAML)))

	// Lookup is case-insensitive over the hex address
	meta, ok := FindToken("0xdac17f958d2ee523a2206206994597c13d831ec7")
	require.True(t, ok)
	assert.Equal(t, "USDT", meta.Symbol)
	assert.Equal(t, 6, meta.Decimals)

	_, ok = FindToken("0x00000000000000000000000000000000000000e5")
	assert.False(t, ok)
}
