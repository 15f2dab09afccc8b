package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
)

// Notifier is the dispatch side of the bot: it formats evaluation
// results and delivers them with one bounded retry. A user who blocked
// the bot surfaces as domain.ErrUserUnreachable and is not retried.
type Notifier struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewNotifier(api *tgbotapi.BotAPI, logger *zap.Logger) *Notifier {
	return &Notifier{api: api, logger: logger}
}

func (n *Notifier) Dispatch(ctx context.Context, event *domain.NotificationEvent) error {
	n.logger.Info(
		"dispatching alert",
		zap.String("event_id", event.ID),
		zap.Uint("alarm_id", event.Alarm.ID),
		zap.Int64("chat_id", event.TargetChatID),
		zap.Int64("price", event.Listing.UnitPrice),
	)

	msg := tgbotapi.NewMessage(event.TargetChatID, formatAlert(event))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🔗 Buy on TTC", event.SearchURL),
		),
	)
	return n.send(ctx, msg)
}

// NotifyText sends plain status text. No parse mode: these messages
// quote item names and command usage verbatim.
func (n *Notifier) NotifyText(ctx context.Context, chatID int64, text string) error {
	return n.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (n *Notifier) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	err := retry.Do(
		func() error {
			_, err := n.api.Send(msg)
			if err == nil {
				return nil
			}
			if isBlocked(err) {
				return retry.Unrecoverable(fmt.Errorf("%w: %v", domain.ErrUserUnreachable, err))
			}
			return err
		},
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		n.logger.Warn("telegram send failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	return err
}

func isBlocked(err error) bool {
	return strings.Contains(err.Error(), "Forbidden")
}
