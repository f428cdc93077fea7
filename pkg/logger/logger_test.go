package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "loud", Format: "json"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}

func TestWithContextAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json"}).Named("api")
	log.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUser(ctx, "owner-7", "owner")
	log.WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["trace_id"] != "trace-1" || line["user_id"] != "owner-7" || line["component"] != "api" {
		t.Fatalf("unexpected fields: %v", line)
	}
	if Role(ctx) != "owner" {
		t.Fatalf("expected role owner, got %q", Role(ctx))
	}
}

func TestLogRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	log.SetOutput(&buf)

	log.LogRequest(context.Background(), "GET", "/x", 503, 0)
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["level"] != "error" {
		t.Fatalf("expected error level for 5xx, got %v", line["level"])
	}
}
