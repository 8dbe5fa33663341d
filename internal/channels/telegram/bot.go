package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gmsas95/pillpal/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot delivers reminders to Telegram chats and answers a few commands that
// help patients register their chat
type Bot struct {
	api     *tgbotapi.BotAPI
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
}

// Config holds Telegram bot configuration
type Config struct {
	Token   string
	Enabled bool
}

// NewBot creates a new Telegram bot
func NewBot(cfg Config, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false, logger: logger}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	api.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		api:     api,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
	}, nil
}

// Enabled reports whether the bot is connected
func (b *Bot) Enabled() bool {
	return b.enabled
}

// Channel implements notify.Sender
func (b *Bot) Channel() string {
	return store.ChannelTelegram
}

// Send implements notify.Sender; address is the chat id
func (b *Bot) Send(ctx context.Context, address, text string) error {
	if !b.enabled {
		return fmt.Errorf("telegram bot is disabled")
	}
	chatID, err := ParseChatID(address)
	if err != nil {
		return err
	}
	_, err = b.sendMessage(chatID, text)
	return err
}

// Start starts the update loop
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}

	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	_, err := b.sendMessage(msg.Chat.ID, CommandReply(msg.Command(), msg.Chat.ID))
	return err
}

// CommandReply builds the answer to a bot command
func CommandReply(command string, chatID int64) string {
	switch command {
	case "start", "chatid":
		return fmt.Sprintf(`💊 *PillPal reminders*

Your chat id is %d.
Register it in the app as a telegram push token to receive dose reminders here.`, chatID)
	case "help":
		return `*Available Commands:*

/start - Show your chat id
/chatid - Show your chat id
/help - Show this help`
	default:
		return "❓ Unknown command. Use /help for available commands."
	}
}

// ParseChatID converts a stored push token to a chat id
func ParseChatID(address string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	return id, nil
}

func (b *Bot) sendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := b.api.Send(msg)
	if err != nil {
		// Try without markdown if it fails
		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
		if err != nil {
			return 0, err
		}
	}

	return sent.MessageID, nil
}
