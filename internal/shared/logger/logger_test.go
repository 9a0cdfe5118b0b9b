package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		env, level string
		debug      bool
	}{
		{"local", "", true},
		{"prod", "", false},
		{"prod", "debug", true},
		{"local", "warn", false},
	}
	for _, tc := range cases {
		l, err := New("cashier-service", tc.env, tc.level)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.env, tc.level, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tc.debug {
			t.Fatalf("%s/%s: debug enabled=%v, want %v", tc.env, tc.level, got, tc.debug)
		}
	}
	if _, err := New("cashier-service", "prod", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestMasked(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	l.Info("withdrawal", Masked("pix_key", "12345678901"), Masked("short", "abc"), Masked("email", "joão@x.io"))

	fields := logs.All()[0].ContextMap()
	want := map[string]string{
		"pix_key": "*******8901",
		"short":   "***",
		"email":   "*****x.io",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Fatalf("%s: want %q, got %v", k, v, fields[k])
		}
	}
}
