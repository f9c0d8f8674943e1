// Package channels delivers skill output to external messengers.
package channels

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends the daily brief to a single configured chat.
// Delivery failures are logged, never fatal to the skill run.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier authenticates against the Bot API with the given
// token and binds the notifier to one chat id.
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info("telegram notifier connected", "bot", bot.Self.UserName, "chat_id", chatID)
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// SendBrief pushes the rendered daily brief to the configured chat.
func (n *TelegramNotifier) SendBrief(_ context.Context, brief string) {
	msg := tgbotapi.NewMessage(n.chatID, brief)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("telegram: failed to send daily brief", "error", err)
		return
	}
	n.logger.Info("telegram: daily brief delivered", "chat_id", n.chatID)
}
