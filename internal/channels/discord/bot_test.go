package discord

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewBot_RequiresToken(t *testing.T) {
	if _, err := NewBot(Config{Enabled: true}, zap.NewNop()); err == nil {
		t.Error("expected error without token")
	}
}

func TestCommandReply(t *testing.T) {
	reply, ok := CommandReply(" !pillpal ", "c-1")
	if !ok || !strings.Contains(reply, "c-1") {
		t.Errorf("got %q, %v", reply, ok)
	}
	if _, ok := CommandReply("!pillpal help", "c-1"); !ok {
		t.Error("help should be answered")
	}
	if _, ok := CommandReply("hello there", "c-1"); ok {
		t.Error("regular messages should be ignored")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		max   int
		parts int
	}{
		{"short", "hello", 10, 1},
		{"lines fit together", "aaa\nbbb", 10, 1},
		{"lines split", "aaaaaa\nbbbbbb", 10, 2},
		{"long line cut", strings.Repeat("x", 25), 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitMessage(tt.text, tt.max)
			if len(parts) != tt.parts {
				t.Fatalf("got %d parts %q, want %d", len(parts), parts, tt.parts)
			}
			for _, p := range parts {
				if len(p) > tt.max {
					t.Errorf("part %q longer than %d", p, tt.max)
				}
			}
		})
	}
}
