package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)
	log.Info().Str("contract", "abc").Msg("funded")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "funded" || line["contract"] != "abc" || line["service"] != "credchain" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestDevelopmentIsConsole(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("development", &buf)
	log.Debug().Msg("hello")
	if buf.Len() == 0 {
		t.Fatalf("debug should be enabled in development")
	}
	if json.Valid(buf.Bytes()) {
		t.Fatalf("expected console output, got json")
	}
}
