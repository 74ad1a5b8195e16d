package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBuffer_KeepsMostRecent(t *testing.T) {
	b := NewBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(Entry{Message: msg, Level: "INFO"})
	}

	got := b.Recent(Query{})
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	if got[0].Message != "b" || got[2].Message != "d" {
		t.Errorf("Expected b..d oldest first, got %v", got)
	}
}

func TestBuffer_Query(t *testing.T) {
	b := NewBuffer(10)
	b.Add(Entry{Message: "one", Level: "DEBUG", Component: "grid"})
	b.Add(Entry{Message: "two", Level: "WARN", Component: "grid"})
	b.Add(Entry{Message: "three", Level: "INFO", Component: "api"})
	b.Add(Entry{Message: "four", Level: "ERROR", Component: "grid"})

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all", Query{MinLevel: slog.LevelDebug}, []string{"one", "two", "three", "four"}},
		{"component", Query{Component: "grid", MinLevel: slog.LevelDebug}, []string{"one", "two", "four"}},
		{"level", Query{MinLevel: slog.LevelWarn}, []string{"two", "four"}},
		{"limit", Query{Limit: 2, MinLevel: slog.LevelDebug}, []string{"three", "four"}},
		{"none", Query{Component: "missing"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Recent(tt.q)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d", len(tt.want), len(got))
			}
			for i, e := range got {
				if e.Message != tt.want[i] {
					t.Errorf("Entry %d: expected %s, got %s", i, tt.want[i], e.Message)
				}
			}
		})
	}
}

func TestBuffer_Subscribe(t *testing.T) {
	b := NewBuffer(5)
	ch := b.Subscribe()

	b.Add(Entry{Message: "hello"})

	select {
	case e := <-ch:
		if e.Message != "hello" {
			t.Errorf("Expected hello, got %s", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for entry")
	}

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("Channel should be closed")
	}
}

func TestNew_CapturesAndForwards(t *testing.T) {
	var out bytes.Buffer
	b := NewBuffer(10)

	logger, err := New("info", "json", &out, b)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log := logger.With("component", "grid")
	log.Debug("hidden")
	log.WithGroup("stream").Info("Stream connected", "camera", "cam1")

	entries := b.Recent(Query{})
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "grid" || e.Message != "Stream connected" {
		t.Errorf("Unexpected entry %+v", e)
	}
	if e.Attrs["stream.camera"] != "cam1" {
		t.Errorf("Expected grouped attribute, got %v", e.Attrs)
	}
	if !strings.Contains(out.String(), `"msg":"Stream connected"`) {
		t.Errorf("Expected JSON output, got %s", out.String())
	}
}

func TestNew_TextFormat(t *testing.T) {
	var out bytes.Buffer
	logger, err := New("debug", "text", &out, NewBuffer(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(out.String(), "msg=visible") {
		t.Errorf("Expected text output, got %s", out.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New("loud", "json", &bytes.Buffer{}, NewBuffer(1)); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := New("info", "xml", &bytes.Buffer{}, NewBuffer(1)); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
