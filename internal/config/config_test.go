package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"staging":    EnvStaging,
		"":           EnvStaging,
		"production": EnvProduction,
		"prod":       EnvProduction,
		" PRODUCTION ": EnvProduction,
	}
	for raw, want := range cases {
		got, err := ParseEnvironment(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := ParseEnvironment("qa")
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "s3://offsets-db-staging", cfg.Bucket)
	require.Equal(t, CreditModeReplace, cfg.Ingest.CreditMode)
	require.Equal(t, 30*time.Minute, cfg.Ingest.Timeout)
	require.InDelta(t, 0.10, cfg.Ingest.AnomalyThreshold, 1e-9)
	require.False(t, cfg.IsProduction())
}

func TestLoadRejectsUnknownCreditMode(t *testing.T) {
	t.Setenv("INGEST_CREDIT_MODE", "merge")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadProductionBucketDefault(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvProduction, cfg.Environment)
	require.Equal(t, "s3://offsets-db", cfg.Bucket)
}
