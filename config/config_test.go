package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Mpesa.Timeout)
	assert.Equal(t, "KES", cfg.Payment.Currency)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  env: production\n  port: \"9000\"\npaystack:\n  secret_key: sk_file\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("STOREFRONT_PAYSTACK_SECRET_KEY", "sk_env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "sk_env", cfg.Paystack.SecretKey)
}

func TestMpesaCallbackURL(t *testing.T) {
	cfg := &Config{Mpesa: MpesaConfig{CallbackBaseURL: "shop.example.com/"}}
	assert.Equal(t, "https://shop.example.com/api/v1/webhooks/mpesa", cfg.MpesaCallbackURL())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
