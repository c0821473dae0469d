package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type CreditsConfig struct {
	SignupBonus         int64
	AnalysisCost        int64
	FetchCost           int64
	DefaultPageSize     int
	MaxPageSize         int
	LegacyDedupWindow   time.Duration
	SummaryCacheTTL     time.Duration
	ReconcileWorkers    int
	AnalysisServiceURL  string
	AnalysisHTTPTimeout time.Duration
}

// LoadCreditsConfig reads the business constants from v, which sees both the
// .env file and the process environment. Unparsable values fall back to the
// defaults.
func LoadCreditsConfig(v *viper.Viper) *CreditsConfig {
	return &CreditsConfig{
		SignupBonus:         getInt64(v, "SIGNUP_BONUS_CREDITS", 20),
		AnalysisCost:        getInt64(v, "ANALYSIS_COST_CREDITS", 5),
		FetchCost:           getInt64(v, "FETCH_COST_CREDITS", 1),
		DefaultPageSize:     getInt(v, "HISTORY_DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:         getInt(v, "HISTORY_MAX_PAGE_SIZE", 100),
		LegacyDedupWindow:   getDuration(v, "LEGACY_DEDUP_WINDOW", time.Second),
		SummaryCacheTTL:     getDuration(v, "SUMMARY_CACHE_TTL", 30*time.Second),
		ReconcileWorkers:    getInt(v, "RECONCILE_WORKERS", 2),
		AnalysisServiceURL:  getString(v, "ANALYSIS_SERVICE_URL", "http://localhost:9000"),
		AnalysisHTTPTimeout: getDuration(v, "ANALYSIS_HTTP_TIMEOUT", 2*time.Minute),
	}
}

func getString(v *viper.Viper, key, defaultVal string) string {
	if val := strings.TrimSpace(v.GetString(key)); val != "" {
		return val
	}
	return defaultVal
}

func getInt(v *viper.Viper, key string, defaultVal int) int {
	if val := getString(v, key, ""); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getInt64(v *viper.Viper, key string, defaultVal int64) int64 {
	if val := getString(v, key, ""); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	if val := getString(v, key, ""); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
