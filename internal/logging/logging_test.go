package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: WarnLevel, Output: &buf})

	logger.Debug("debug message", nil)
	logger.Info("info message", nil)
	logger.Warn("warn message", nil)
	logger.Error("error message", nil)

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message should pass at warn level")
	}
	if !strings.Contains(out, "error message") {
		t.Error("error message should pass at warn level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	logger.Info("indexed corpus", map[string]interface{}{"corpus": "code", "entries": 42})

	var e map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if e["message"] != "indexed corpus" {
		t.Errorf("message = %v, want %q", e["message"], "indexed corpus")
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want %q", e["level"], "info")
	}
	fields, ok := e["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("fields missing from JSON entry")
	}
	if fields["corpus"] != "code" {
		t.Errorf("fields.corpus = %v, want %q", fields["corpus"], "code")
	}
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	daemonLog := logger.Component("daemon")
	daemonLog.Info("tick", nil)

	var e map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if e["component"] != "daemon" {
		t.Errorf("component = %v, want %q", e["component"], "daemon")
	}

	// Parent logger stays untagged
	buf.Reset()
	logger.Info("untouched", nil)
	var parent map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parent); err != nil {
		t.Fatalf("parent output is not valid JSON: %v", err)
	}
	if _, ok := parent["component"]; ok {
		t.Error("parent logger should not carry a component tag")
	}
}

func TestHumanFieldsStableOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: InfoLevel, Output: &buf})

	logger.Info("msg", map[string]interface{}{"b": 2, "a": 1, "c": 3})

	out := buf.String()
	ai := strings.Index(out, "a=1")
	bi := strings.Index(out, "b=2")
	ci := strings.Index(out, "c=3")
	if ai < 0 || bi < 0 || ci < 0 {
		t.Fatalf("missing fields in output: %q", out)
	}
	if !(ai < bi && bi < ci) {
		t.Errorf("fields not in sorted order: %q", out)
	}
}
