package utils

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%v) returned nil logger", debug)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != debug {
			t.Errorf("NewLogger(%v): debug enabled = %v", debug, got)
		}
		_ = logger.Sync()
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}

func TestTenantLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	TenantLogger(zap.New(core), "acme").Info("store opened")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["tenant_id"]; got != "acme" {
		t.Errorf("tenant_id = %v, want acme", got)
	}
	TenantLogger(nil, "acme").Info("dropped")
}
