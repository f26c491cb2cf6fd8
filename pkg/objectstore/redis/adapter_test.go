package redis

import (
	"testing"
	"time"

	"github.com/nimburion/objectbank/pkg/observability/logger"
)

func TestNewAdapter_InvalidURL(t *testing.T) {
	_, err := NewAdapter(Config{URL: "invalid://url", OperationTimeout: time.Second}, logger.Nop())
	if err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}

func TestNewAdapter_EmptyURL(t *testing.T) {
	_, err := NewAdapter(Config{}, logger.Nop())
	if err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
	if err.Error() != "redis URL is required" {
		t.Fatalf("expected 'redis URL is required' error, got: %v", err)
	}
}

func TestKeys(t *testing.T) {
	a := newAdapter(nil, Config{Prefix: "bank:"}, logger.Nop())
	if got := a.containerKey("objects"); got != "bank:objects" {
		t.Fatalf("unexpected container key %q", got)
	}
	if got := a.objectsKey("objects"); got != "bank:objects:objects" {
		t.Fatalf("unexpected objects key %q", got)
	}

	def := newAdapter(nil, Config{}, logger.Nop())
	if got := def.containerKey("c"); got != "objectbank:c" {
		t.Fatalf("unexpected default key %q", got)
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"key-1", `key\-1`},
		{"plan*", `plan\*`},
		{"a?[b]", `a\?\[b\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Fatalf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
