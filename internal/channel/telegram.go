package channel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flatshare/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

const telegramWelcome = `Welcome to the flat. Your housemates are listening, and they are not nice.

Say anything and see who bites. /help lists what else you can ask.`

// Telegram is a Telegram bot front end. Each chat is one flat; every
// allowed sender is the user.
type Telegram struct {
	token     string
	allowFrom []int64 // empty allows everyone
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects and polls for updates until ctx ends.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(t.Name(), t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops with Start's context, and stopping the
// updates channel twice panics.
func (t *Telegram) Stop() error { return nil }

// deliver sends one outbound line. Telegram gets whole lines only, so
// stream fragments are dropped and the final event is sent instead.
func (t *Telegram) deliver(msg domain.OutboundMessage) {
	text, ok := telegramText(msg)
	if !ok {
		return
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chat_id", msg.ChatID, "err", err)
		return
	}
	t.sendMessage(chatID, text)
}

// telegramText renders msg, or reports false when it should not be sent.
func telegramText(msg domain.OutboundMessage) (string, bool) {
	content := msg.Content
	if ev := msg.StreamEvent; ev != nil {
		if ev.Type != domain.StreamDone {
			return "", false
		}
		content = ev.Content
	}
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	if msg.Notice || msg.Speaker == "" {
		return content, true
	}
	return msg.Speaker + ": " + content, true
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	userID, chatID := m.From.ID, m.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", m.From.UserName)
		t.sendMessage(chatID, "This flat is invite only.")
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	if m.IsCommand() && m.Command() == "start" {
		t.sendMessage(chatID, telegramWelcome)
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))
	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	t.bus.Publish(domain.InboundMessage{
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(m.Date), 0),
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	return len(t.allowFrom) == 0 || slices.Contains(t.allowFrom, userID)
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most n bytes, preferring line
// breaks in the second half of a chunk.
func splitMessage(text string, n int) []string {
	var chunks []string
	for len(text) > n {
		cut := strings.LastIndex(text[:n], "\n")
		if cut < n/2 {
			cut = n
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends with the configured parse mode first, then plain text,
// backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			wait := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
			time.Sleep(wait)
		case attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markup rejected, retrying as plain text", "parse_mode", t.parseMode)
		case attempt < telegramMaxSendRetries:
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
		default:
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
		}
	}
}

var _ domain.Channel = (*Telegram)(nil)
