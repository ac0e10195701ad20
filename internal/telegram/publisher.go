// Package telegram mirrors published posts to Telegram chats and answers a
// few operator commands.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/feedlane/internal/types"
)

const maxTelegramMessage = 4096

// TargetPrefix is the delivery prefix handled by the publisher.
const TargetPrefix = "telegram:"

// StatusFunc reports a short status line for the /status command.
type StatusFunc func(ctx context.Context) (string, error)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Publisher sends text to Telegram chats addressed as "telegram:<chat id>".
type Publisher struct {
	bot    *tgbotapi.BotAPI
	send   sender
	status StatusFunc
}

// New creates a Telegram publisher.
func New(token string, status StatusFunc) (*Publisher, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Publisher{bot: bot, send: bot, status: status}, nil
}

// Deliver sends text to the chat named by target, splitting messages over
// Telegram's size limit. The returned item carries the first message id.
func (p *Publisher) Deliver(_ context.Context, target, text string) (*types.Item, error) {
	chatID, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	var first *types.Item
	for _, part := range splitMessage(text) {
		sent, err := p.send.Send(tgbotapi.NewMessage(chatID, part))
		if err != nil {
			return first, fmt.Errorf("send to chat %d: %w", chatID, err)
		}
		if first == nil {
			first = &types.Item{
				ID:                   strconv.Itoa(sent.MessageID),
				ConversationID:       strconv.FormatInt(chatID, 10),
				Text:                 text,
				CreatedAtEpochMillis: int64(sent.Date) * 1000,
			}
		}
	}
	return first, nil
}

// Start begins long-polling for operator commands. It returns when ctx ends.
func (p *Publisher) Start(ctx context.Context) {
	if p.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := p.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			p.handleCommand(ctx, update.Message.Chat.ID, update.Message.Command())
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			return
		}
	}
}

func (p *Publisher) handleCommand(ctx context.Context, chatID int64, command string) {
	var reply string
	switch command {
	case "start":
		reply = fmt.Sprintf("Mirroring posts here. Chat id: %d", chatID)
	case "status":
		if p.status == nil {
			reply = "Status unavailable."
			break
		}
		s, err := p.status(ctx)
		if err != nil {
			slog.Error("telegram status failed", "chat_id", chatID, "error", err)
			reply = "Error fetching status."
			break
		}
		reply = s
	default:
		reply = "Unknown command. Available: /start, /status"
	}

	if _, err := p.send.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		slog.Error("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func parseTarget(target string) (int64, error) {
	raw, ok := strings.CutPrefix(target, TargetPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", raw, err)
	}
	return chatID, nil
}

// splitMessage cuts text into parts of at most maxTelegramMessage bytes
// without splitting a rune.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
