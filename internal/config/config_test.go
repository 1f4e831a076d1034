package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  name: tably
  environment: test

database:
  path: ./data/test.db

verification:
  secret: "0123456789abcdef"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "tably", cfg.App.Name)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 15*time.Minute, cfg.Verification.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Verification.ReplayWindow)
	assert.Equal(t, 5, cfg.Verification.MaxAttempts)
	assert.Equal(t, "month", cfg.Quota.Period)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_VERIFY_SECRET", "secret-from-env-16b")
	t.Setenv("TEST_DB_PATH", "./data/env.db")

	cfg, err := Load(writeConfig(t, `
database:
  path: ${TEST_DB_PATH}

verification:
  secret: "${TEST_VERIFY_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "./data/env.db", cfg.Database.Path)
	assert.Equal(t, "secret-from-env-16b", cfg.Verification.Secret)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  name: tably
  environment: production
  version: 1.2.3

database:
  path: ./data/tably.db

redis:
  address: localhost:6379
  db: 1

api:
  enabled: true
  http:
    port: 9000
  auth:
    api_keys:
      - key: frontdesk-key
        name: frontdesk
        tenant_id: 1
        permissions: ["read:resources", "write:bookings"]
      - key: admin-key
        name: admin
        tenant_id: 1
        permissions: ["admin"]
  rate_limit:
    rps: 5
    burst: 10

verification:
  secret: "0123456789abcdef"
  ttl: 30m
  max_attempts: 3

quota:
  enabled: true
  limits:
    bookings: 500

telegram:
  enabled: true
  bot_token: token
  chats:
    - tenant_id: 1
      chat_id: -100123

seed:
  resources:
    - resource:
        id: 1
        tenant_id: 1
        name: "Table 1"
        capacity: 1
        bookable: true
        status: active
      rule:
        slot_minutes: 30
        max_advance_days: 60
        hours:
          monday:
            - start: 540
              end: 1260
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.API.HTTP.Port)
	assert.True(t, cfg.API.Auth.Enabled, "auth defaults on when the API is enabled")
	require.Len(t, cfg.API.Auth.APIKeys, 2)
	assert.Equal(t, int64(1), cfg.API.Auth.APIKeys[0].TenantID)

	assert.Equal(t, 30*time.Minute, cfg.Verification.TTL)
	assert.Equal(t, 3, cfg.Verification.MaxAttempts)
	assert.Equal(t, int64(500), cfg.Quota.Limits["bookings"])

	require.Len(t, cfg.Seed.Resources, 1)
	seeded := cfg.Seed.Resources[0]
	assert.Equal(t, "Table 1", seeded.Resource.Name)
	require.NotNil(t, seeded.Rule)
	assert.Equal(t, 30, seeded.Rule.SlotMinutes)
	require.Len(t, seeded.Rule.Hours[time.Monday], 1)
	assert.Equal(t, 540, seeded.Rule.Hours[time.Monday][0].Start)

	assert.Equal(t, int64(-100123), cfg.Telegram.ChatForTenant(1))
	assert.Zero(t, cfg.Telegram.ChatForTenant(2))
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing database path",
			"verification:\n  secret: \"0123456789abcdef\"\n",
			"database path",
		},
		{
			"missing secret",
			"database:\n  path: ./data/test.db\n",
			"verification secret is required",
		},
		{
			"short secret",
			"database:\n  path: ./data/test.db\nverification:\n  secret: short\n",
			"at least 16 bytes",
		},
		{
			"seed resource without id",
			minimalConfig + `
seed:
  resources:
    - resource:
        tenant_id: 1
        name: "Broken"
        capacity: 1
`,
			"invalid ID 0",
		},
		{
			"duplicate seed resource",
			minimalConfig + `
seed:
  resources:
    - resource:
        id: 1
        tenant_id: 1
        name: "A"
        capacity: 1
    - resource:
        id: 1
        tenant_id: 1
        name: "B"
        capacity: 1
`,
			"duplicate seed resource",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
