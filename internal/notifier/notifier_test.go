package notifier

import (
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vhz-mon/marketwatch/internal/model"
)

type fakeAPI struct {
	sent []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifySendsMessage(t *testing.T) {
	api := &fakeAPI{}
	n := &TelegramNotifier{api: api, log: testLogger()}

	match := Match{
		TaskName: "redline watch",
		Listing:  model.Listing{ItemName: "AK-47 | Redline", PriceCents: 900},
	}
	if err := n.Notify(42, match); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(api.sent))
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	if msg.Text == "" {
		t.Error("empty notification text")
	}
}

func TestNotifyWithoutBotLogsOnly(t *testing.T) {
	n := &TelegramNotifier{api: nil, log: testLogger()}
	match := Match{TaskName: "t", Listing: model.Listing{ItemName: "x", PriceCents: 1}}
	if err := n.Notify(42, match); err != nil {
		t.Errorf("Notify() without bot error = %v, want nil", err)
	}
}
