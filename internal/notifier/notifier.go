// Package notifier delivers match events to a task's owning chat,
// fire-and-forget. Only the notification hook lives here; the command
// surface of a full chat bot is a separate concern.
package notifier

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
)

// Match is the summary snapshot passed to Notify on a first-seen listing.
type Match struct {
	TaskName string
	Listing  model.Listing
}

// Notifier delivers a Match to a chat. TelegramNotifier is the
// production implementation; tests use a recording fake.
type Notifier interface {
	Notify(chatID int64, match Match) error
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends match notifications over a long-lived bot
// session.
type TelegramNotifier struct {
	api telegramAPI
	log *slog.Logger
}

// New constructs a TelegramNotifier. If BotToken is empty, notifications
// are logged but not sent — convenient for local development without
// live bot credentials.
func New(cfg config.NotifierConfig, log *slog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		log.Warn("notifier: no bot token configured, notifications will be logged only")
		return &TelegramNotifier{api: nil, log: log}, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: create bot api: %w", err)
	}
	return &TelegramNotifier{api: api, log: log}, nil
}

// Notify formats and sends a single match notification. Failures are
// returned to the caller but never retried: the found-item row is the
// durable record of the match, and a retry here could double-send.
func (n *TelegramNotifier) Notify(chatID int64, match Match) error {
	text := formatMatch(match)
	if n.api == nil {
		n.log.Info("notification (no bot configured)", "chat_id", chatID, "text", text)
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("notifier: send message: %w", err)
	}
	return nil
}

func formatMatch(m Match) string {
	price := float64(m.Listing.PriceCents) / 100
	return fmt.Sprintf("Match for %q: %s — $%.2f", m.TaskName, m.Listing.ItemName, price)
}
