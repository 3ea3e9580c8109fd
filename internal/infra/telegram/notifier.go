package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hypertrack/internal/domain"
	"hypertrack/internal/infra"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const queueSize = 128

// botAPI is the slice of tgbotapi we use, kept narrow for tests.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers structured events to a Telegram chat. Notify never
// blocks: messages are queued and a single worker drains the queue; when
// the queue is full the message is dropped and counted.
type Notifier struct {
	bot    botAPI
	chatID int64
	queue  chan domain.Notification
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a Telegram notifier from config. Returns an error
// when the token is rejected by the Telegram API.
func NewNotifier(cfg *infra.Config) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating bot: %w", err)
	}

	return &Notifier{
		bot:    bot,
		chatID: cfg.Telegram.ChatID,
		queue:  make(chan domain.Notification, queueSize),
		logger: slog.Default().With("module", "telegram"),
	}, nil
}

// Run drains the queue until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-n.queue:
				n.send(msg)
			}
		}
	}()
}

// Notify enqueues a notification. Drops when the queue is full.
func (n *Notifier) Notify(note domain.Notification) {
	select {
	case n.queue <- note:
	default:
		infra.GlobalMetrics.RecordError()
		n.logger.Warn("Notification queue full, dropping", "kind", string(note.Kind), "symbol", note.Symbol)
	}
}

// Close waits for the drain worker to exit. Call after cancelling the Run
// context.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func (n *Notifier) send(note domain.Notification) {
	text := format(note)
	msg := tgbotapi.NewMessage(n.chatID, text)

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("Failed to send telegram message", slog.Any("error", err), "kind", string(note.Kind))
	}
}

func format(note domain.Notification) string {
	icon := "ℹ️"
	switch note.Kind {
	case domain.NotifyOrderFilled:
		icon = "✅"
	case domain.NotifyOrderFailed:
		icon = "❌"
	case domain.NotifyStopLoss:
		icon = "🛑"
	case domain.NotifyDecisionRejected:
		icon = "⚠️"
	}

	header := fmt.Sprintf("%s [%s]", icon, note.Symbol)
	if note.Wallet != "" {
		header += " " + shortAddr(note.Wallet)
	}
	return header + "\n" + note.Text
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
