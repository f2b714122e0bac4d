package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, "/api/v1", cfg.APIPrefix)
	require.Equal(t, "./exports", cfg.Exports.StorageDir)
	require.Equal(t, 24*time.Hour, cfg.Exports.SignedURLTTL)
	require.Equal(t, 72*time.Hour, cfg.Exports.ResultTTL)
	require.Equal(t, 4, cfg.Exports.PhotoWorkers)
	require.Equal(t, 2.0, cfg.Exports.SafetyFactor)
	require.Equal(t, 80, cfg.Exports.DefaultQuality)
	require.Equal(t, 1024, cfg.Exports.DefaultMaxWidth)
	require.False(t, cfg.EnableJobStore)
	require.Equal(t, time.Minute, cfg.StatusCacheTTL)
	require.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("EXPORTS_SIGNED_URL_TTL", "30m")
	v.Set("EXPORTS_RESULT_TTL", "not-a-duration")
	v.Set("EXPORTS_SAFETY_FACTOR", "2.5")
	v.Set("ENABLE_STATUS_CACHE", true)
	v.Set("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := fromViper(v)
	require.Equal(t, 30*time.Minute, cfg.Exports.SignedURLTTL)
	require.Equal(t, 72*time.Hour, cfg.Exports.ResultTTL)
	require.Equal(t, 2.5, cfg.Exports.SafetyFactor)
	require.True(t, cfg.EnableStatusCache)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseFloatFallback(t *testing.T) {
	require.Equal(t, 2.0, parseFloat("", 2))
	require.Equal(t, 2.0, parseFloat("-1", 2))
	require.Equal(t, 3.0, parseFloat(" 3 ", 2))
}
