package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HOST", "PORT", "PUBLIC_URL", "SQLITE_PATH", "LOG_LEVEL", "LOG_FORMAT",
		"REDIS_ADDR", "OAUTH2_GOOGLE_ENABLED", "OAUTH2_GOOGLE_CLIENT_ID", "OAUTH2_MICROSOFT_ENABLED",
		"OAUTH2_MICROSOFT_TENANT_ID"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost:3001", cfg.Addr())
	assert.Equal(t, "http://localhost:3000", cfg.PublicURL)
	assert.Equal(t, "kaarna.db", cfg.SQLitePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RedisAddr)
	assert.True(t, cfg.Google.Enabled)
	assert.True(t, cfg.Microsoft.Enabled)
	assert.Equal(t, "consumers", cfg.Microsoft.TenantID)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("PUBLIC_URL", "https://kaarna.example.com/")
	t.Setenv("OAUTH2_GOOGLE_ENABLED", "false")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "google-id")
	t.Setenv("OAUTH2_MICROSOFT_CLIENT_ID", "ms-id")
	t.Setenv("OAUTH2_MICROSOFT_TENANT_ID", "common")
	t.Setenv("OAUTH2_MICROSOFT_CERTIFICATE_PATH", "/etc/kaarna/cert.pem")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://kaarna.example.com", cfg.PublicURL)
	assert.False(t, cfg.Google.Enabled)
	assert.Equal(t, "google-id", cfg.Google.ClientID)
	assert.Equal(t, "ms-id", cfg.Microsoft.ClientID)
	assert.Equal(t, "common", cfg.Microsoft.TenantID)
	assert.Equal(t, "/etc/kaarna/cert.pem", cfg.Microsoft.CertificatePath)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("PORT", "")
	t.Setenv("OAUTH2_MICROSOFT_ENABLED", "maybe")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "OAUTH2_MICROSOFT_ENABLED")
}
