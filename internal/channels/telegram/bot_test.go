package telegram

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewBot_DisabledWithoutToken(t *testing.T) {
	bot, err := NewBot(Config{Enabled: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bot.Enabled() {
		t.Error("bot without token should be disabled")
	}
	if err := bot.Start(); err != nil {
		t.Errorf("Start on disabled bot: %v", err)
	}
	bot.Stop()

	if err := bot.Send(context.Background(), "42", "hi"); err == nil {
		t.Error("expected send on disabled bot to fail")
	}
}

func TestParseChatID(t *testing.T) {
	tests := []struct {
		address string
		want    int64
		wantErr bool
	}{
		{"12345", 12345, false},
		{" -100200 ", -100200, false},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseChatID(tt.address)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChatID(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChatID(%q) = %d, want %d", tt.address, got, tt.want)
		}
	}
}

func TestCommandReply(t *testing.T) {
	if reply := CommandReply("start", 99); !strings.Contains(reply, "99") {
		t.Errorf("start reply should contain chat id, got %q", reply)
	}
	if reply := CommandReply("help", 99); !strings.Contains(reply, "/chatid") {
		t.Errorf("help reply should list commands, got %q", reply)
	}
	if reply := CommandReply("dance", 99); !strings.Contains(reply, "Unknown command") {
		t.Errorf("unexpected reply %q", reply)
	}
}
