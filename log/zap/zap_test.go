package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/examcache"
)

func TestFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Warn("kv get failed", examcache.Fields{"key": "user:1:blob:v1", "err": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["key"] != "user:1:blob:v1" || ctx["err"] != "boom" {
		t.Fatalf("unexpected context: %#v", ctx)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level = %v", entries[0].Level)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New("loud"); err == nil {
		t.Fatalf("expected error")
	}
	if _, l, err := New("debug"); err != nil || l == nil {
		t.Fatalf("New(debug): %v", err)
	}
}
