// Package discord delivers reminders to Discord channels
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

// Discord rejects messages above this length
const maxMessageLength = 2000

// Config holds Discord bot configuration
type Config struct {
	Token   string
	Enabled bool
}

// Bot represents a Discord bot instance
type Bot struct {
	session *discordgo.Session
	config  Config
	logger  *zap.Logger
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		config:  cfg,
		logger:  logger,
	}

	session.AddHandler(bot.ready)
	session.AddHandler(bot.messageCreate)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	return bot, nil
}

// Start opens the gateway connection
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	b.logger.Info("Discord bot started",
		zap.String("username", b.session.State.User.Username),
	)

	return nil
}

// Stop stops the Discord bot
func (b *Bot) Stop() error {
	return b.session.Close()
}

// Channel implements notify.Sender
func (b *Bot) Channel() string {
	return store.ChannelDiscord
}

// Send implements notify.Sender; address is a channel id
func (b *Bot) Send(ctx context.Context, address, text string) error {
	for i, part := range splitMessage(text, maxMessageLength) {
		if i > 0 {
			time.Sleep(100 * time.Millisecond) // Rate limit
		}
		if _, err := b.session.ChannelMessageSend(address, part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}
	return nil
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", s.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

// messageCreate answers "!pillpal" with the channel id to register
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	if reply, ok := CommandReply(m.Content, m.ChannelID); ok {
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			b.logger.Warn("Failed to answer command", zap.Error(err))
		}
	}
}

// CommandReply answers bot commands; ok is false for regular messages
func CommandReply(content, channelID string) (string, bool) {
	switch strings.TrimSpace(content) {
	case "!pillpal", "!pillpal channel":
		return fmt.Sprintf("💊 This channel id is `%s`. Register it in the app as a discord push token to receive dose reminders here.", channelID), true
	case "!pillpal help":
		return "**PillPal**\n• `!pillpal` - show this channel id\n• `!pillpal help` - show this help", true
	}
	return "", false
}

// splitMessage splits a message into chunks under max length
func splitMessage(text string, maxLen int) []string {
	var parts []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	for _, line := range lines {
		for len(line) > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:maxLen])
			line = line[maxLen:]
		}
		if current.Len()+len(line)+1 > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
