package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func TestLoadCreditsConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadCreditsConfig(envViper(t))

		assert.Equal(t, int64(20), cfg.SignupBonus)
		assert.Equal(t, int64(5), cfg.AnalysisCost)
		assert.Equal(t, 100, cfg.MaxPageSize)
		assert.Equal(t, time.Second, cfg.LegacyDedupWindow)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("SIGNUP_BONUS_CREDITS", "10")
		t.Setenv("HISTORY_MAX_PAGE_SIZE", "50")
		t.Setenv("LEGACY_DEDUP_WINDOW", "500ms")

		cfg := LoadCreditsConfig(envViper(t))

		assert.Equal(t, int64(10), cfg.SignupBonus)
		assert.Equal(t, 50, cfg.MaxPageSize)
		assert.Equal(t, 500*time.Millisecond, cfg.LegacyDedupWindow)
	})

	t.Run("dotenv file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "SIGNUP_BONUS_CREDITS=7\nANALYSIS_COST_CREDITS=3\nSUMMARY_CACHE_TTL=1m\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		v := envViper(t)
		v.SetConfigFile(path)
		v.SetConfigType("env")
		require.NoError(t, v.ReadInConfig())

		cfg := LoadCreditsConfig(v)

		assert.Equal(t, int64(7), cfg.SignupBonus)
		assert.Equal(t, int64(3), cfg.AnalysisCost)
		assert.Equal(t, time.Minute, cfg.SummaryCacheTTL)
		assert.Equal(t, int64(1), cfg.FetchCost)
	})

	t.Run("environment wins over the dotenv file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("FETCH_COST_CREDITS=4\n"), 0o600))
		t.Setenv("FETCH_COST_CREDITS", "9")

		v := envViper(t)
		v.SetConfigFile(path)
		v.SetConfigType("env")
		require.NoError(t, v.ReadInConfig())

		assert.Equal(t, int64(9), LoadCreditsConfig(v).FetchCost)
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		t.Setenv("ANALYSIS_COST_CREDITS", "five")

		cfg := LoadCreditsConfig(envViper(t))

		assert.Equal(t, int64(5), cfg.AnalysisCost)
	})
}
