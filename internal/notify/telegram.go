package notify

import (
	"context"
	"fmt"

	"tably/internal/config"
	"tably/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier pushes booking lifecycle messages into per-tenant
// operations chats. Tenants without a configured chat are skipped
// silently.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chats  config.TelegramConfig
	logger *zerolog.Logger
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chats:  cfg,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) SendTemplateMessage(ctx context.Context, tenantID int64, template string, booking *models.Booking) error {
	chatID := n.chats.ChatForTenant(tenantID)
	if chatID == 0 {
		return nil
	}

	text := renderTemplate(template, booking)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) TriggerEvent(ctx context.Context, name string, payload any) error {
	n.logger.Debug().Str("event", name).Interface("payload", payload).Msg("notifier event")
	return nil
}

func renderTemplate(template string, b *models.Booking) string {
	when := fmt.Sprintf("%s %s–%s", b.Date.Format(models.DateLayout),
		models.MinuteClock(b.StartMinute), models.MinuteClock(b.EndMinute))

	switch template {
	case "booking_admitted":
		return fmt.Sprintf("✅ *%s* booked\n%s\nParty of %d\nRef: `%s`",
			b.ResourceName, when, b.PartySize, b.Ref)
	case "booking_cancelled":
		return fmt.Sprintf("❌ *%s* cancelled\n%s\nRef: `%s`",
			b.ResourceName, when, b.Ref)
	case "booking_checked_in":
		return fmt.Sprintf("🎟 *%s* checked in\n%s\nRef: `%s`",
			b.ResourceName, when, b.Ref)
	default:
		return ""
	}
}
