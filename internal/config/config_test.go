package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStoreDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 2, cfg.FreeGenerations)
	assert.Equal(t, 1, cfg.CreditsPerPayment)
	assert.Equal(t, int64(3000), cfg.PaymentAmountMinor)
	assert.Equal(t, "UAH", cfg.PaymentCurrency)
	assert.Equal(t, 5*time.Minute, cfg.GenerationLockTTL)
	assert.Equal(t, ":3000", cfg.HTTPListenAddr)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PAYMENT_AMOUNT=49.99\nGENERATION_LOCK_TTL=90s\nADMIN_USER_IDS=1, 2,x\nKIE_BASE_URL=kie.ai\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	for _, key := range []string{"PAYMENT_AMOUNT", "GENERATION_LOCK_TTL", "ADMIN_USER_IDS", "KIE_BASE_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, int64(4999), cfg.PaymentAmountMinor)
	assert.Equal(t, 90*time.Second, cfg.GenerationLockTTL)
	assert.Equal(t, []int64{1, 2}, cfg.AdminUserIDs)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
}

func TestLoadReportsMissingVariables(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}
