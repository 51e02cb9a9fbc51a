package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromCore(core)

	log.Info("connect", "neo4j_password", "hunter2", "uri", "bolt://localhost:7687")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["neo4j_password"] != "[REDACTED]" {
		t.Fatalf("expected password redacted, got %v", fields["neo4j_password"])
	}
	if fields["uri"] != "bolt://localhost:7687" {
		t.Fatalf("expected uri kept, got %v", fields["uri"])
	}
}

func TestLoggerWithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewFromCore(core).With("component", "projection")

	log.Debug("dropped")
	log.Warn("snapshot failed", "stream_id", "s-1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected debug entry filtered, got %d entries", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["component"] != "projection" {
		t.Fatalf("expected component field, got %v", entries[0].ContextMap())
	}
}

func TestRedactKeepsDanglingKey(t *testing.T) {
	got := redact([]any{"a", 1, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Fatalf("unexpected redact output %v", got)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"prod", "dev", ""} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("new %q: %v", mode, err)
		}
		log.Debug("mode ready")
	}
}

func TestOrNop(t *testing.T) {
	OrNop(nil).Error("discarded")
}
