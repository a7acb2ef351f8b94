package notify

import (
	"context"
	"fmt"

	"trading-alerts/api/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type TelegramBot struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramBot(token string) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error connecting Telegram bot: %w", err)
	}
	logger.Get().Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &TelegramBot{bot: bot}, nil
}

func (t *TelegramBot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending Telegram message to %d: %w", chatID, err)
	}
	return nil
}

type LogTelegramSender struct{}

func (LogTelegramSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	logger.Get().Info("telegram delivery disabled, dropping message", zap.Int64("chat_id", chatID))
	return nil
}
