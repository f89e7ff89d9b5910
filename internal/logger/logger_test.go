package logger

import (
	"testing"

	"github.com/offsetsdb/offsetsdb/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New("loud", config.EnvProduction); err != nil {
		return
	}
	t.Fatalf("expected error for invalid level")
}

func TestNewHonorsLevelAcrossEnvironments(t *testing.T) {
	for _, env := range []config.Environment{config.EnvStaging, config.EnvProduction} {
		log, err := New("debug", env)
		if err != nil {
			t.Fatalf("new logger for %s: %v", env, err)
		}
		if !log.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("debug level not honored for %s", env)
		}
	}
}
