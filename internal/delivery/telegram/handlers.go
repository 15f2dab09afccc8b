package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"github.com/tamrielwatch/ttcwatch/internal/usecase"
	"go.uber.org/zap"
)

type Handlers struct {
	userUC  *usecase.UserUsecase
	alarmUC *usecase.AlarmUsecase
	monitor *usecase.Monitor
	logger  *zap.Logger
}

func NewHandlers(userUC *usecase.UserUsecase, alarmUC *usecase.AlarmUsecase, monitor *usecase.Monitor, logger *zap.Logger) *Handlers {
	return &Handlers{userUC: userUC, alarmUC: alarmUC, monitor: monitor, logger: logger}
}

func (h *Handlers) HandleUpdate(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		h.handleCallback(ctx, api, update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if update.Message.IsCommand() {
		h.handleCommand(ctx, api, update)
		return
	}
	h.handleMessage(ctx, api, update)
}

func (h *Handlers) handleCommand(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) {
	command := update.Message.Command()
	args := update.Message.CommandArguments()
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	username := update.Message.From.UserName

	h.logger.Info(
		"telegram command received",
		zap.Int64("chat_id", chatID),
		zap.Int64("telegram_user_id", userID),
		zap.String("command", command),
		zap.String("args", args),
	)

	switch command {
	case "start":
		if _, err := h.userUC.StartOrGetUser(ctx, userID, username); err != nil {
			h.logger.Warn("start command failed", zap.Int64("telegram_user_id", userID), zap.Error(err))
			h.reply(api, chatID, "Failed to register. Please try again.")
			return
		}
		h.reply(api, chatID, "Welcome to ttcwatch, your Tamriel Trade Centre price watcher.\n\n"+HelpText)
	case "help":
		h.reply(api, chatID, HelpText)
	case "add":
		item, threshold, err := ParseAddArgs(args)
		if err != nil {
			h.reply(api, chatID, "Usage: /add <item name> <price>\nExample: /add Dreugh Wax 50000")
			return
		}
		h.addAlarm(ctx, api, chatID, userID, username, item, threshold)
	case "list":
		alarms, err := h.alarmUC.ListAlarms(ctx, userID)
		if err != nil {
			h.reply(api, chatID, h.errorMessage(err))
			return
		}
		if len(alarms) == 0 {
			h.reply(api, chatID, "No alarms yet. Add one with /add <item name> <price> or send \"Kuta | 8000\".")
			return
		}
		h.reply(api, chatID, fmt.Sprintf("📋 Your alarms (%d):", len(alarms)))
		now := time.Now()
		for _, alarm := range alarms {
			msg := tgbotapi.NewMessage(chatID, formatAlarmCard(alarm, now))
			msg.ParseMode = tgbotapi.ModeHTML
			msg.ReplyMarkup = alarmButtons(alarm.ID)
			if _, err := api.Send(msg); err != nil {
				h.logger.Warn("failed to send alarm card", zap.Error(err))
			}
		}
	case "remove", "delete":
		alarmID, err := ParseAlarmID(args)
		if err != nil {
			h.reply(api, chatID, "Usage: /remove <alarm_id>  (ids are shown in /list)")
			return
		}
		if err := h.alarmUC.RemoveAlarm(ctx, userID, alarmID); err != nil {
			h.reply(api, chatID, h.errorMessage(err))
			return
		}
		h.reply(api, chatID, fmt.Sprintf("Alarm #%d deleted.", alarmID))
	case "test":
		item := strings.Join(strings.Fields(args), " ")
		if item == "" {
			h.reply(api, chatID, "Usage: /test <item name>\nExample: /test Dreugh Wax")
			return
		}
		h.reply(api, chatID, fmt.Sprintf(
			"🔍 Checking %s... this can take up to a minute if a captcha needs solving.", item))
		// the check may block on a human solving a captcha; keep the
		// update loop responsive
		go h.runTest(ctx, api, chatID, item)
	case "checknow":
		user, err := h.userUC.StartOrGetUser(ctx, userID, username)
		if err != nil {
			h.reply(api, chatID, h.errorMessage(err))
			return
		}
		var alarmID uint
		if strings.TrimSpace(args) != "" {
			alarmID, err = ParseAlarmID(args)
			if err != nil {
				h.reply(api, chatID, "Usage: /checknow [alarm_id]")
				return
			}
		}
		if !h.monitor.CheckNow(user.ID, alarmID) {
			h.reply(api, chatID, "Too many checks queued right now, try again in a moment.")
			return
		}
		h.reply(api, chatID, "🔄 Checking your alarms now. Results arrive as separate messages.")
	default:
		h.reply(api, chatID, "Unknown command.\n\n"+HelpText)
	}
}

// handleMessage recognizes the "<item> | <price>" quick-add shorthand;
// any other free text is ignored.
func (h *Handlers) handleMessage(ctx context.Context, api *tgbotapi.BotAPI, update tgbotapi.Update) {
	text := update.Message.Text
	if text == "" {
		return
	}
	item, threshold, ok := ParseShorthand(text)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	username := update.Message.From.UserName
	h.addAlarm(ctx, api, chatID, userID, username, item, threshold)
}

func (h *Handlers) addAlarm(ctx context.Context, api *tgbotapi.BotAPI, chatID, userID int64, username, item string, threshold int64) {
	alarm, err := h.alarmUC.AddAlarm(ctx, userID, username, item, threshold)
	if err != nil {
		h.logger.Warn("add alarm failed", zap.Int64("telegram_user_id", userID), zap.Error(err))
		h.reply(api, chatID, h.errorMessage(err))
		return
	}

	h.logger.Info("alarm added", zap.Int64("telegram_user_id", userID), zap.Uint("alarm_id", alarm.ID))
	text := fmt.Sprintf(
		"✅ <b>Alarm #%d added!</b>\n\n🎯 <b>Item:</b> %s\n💰 <b>Alert at:</b> %sg and below\n⏰ Checked every few minutes.",
		alarm.ID, escHTML(alarm.ItemName), fmtGold(alarm.Threshold))
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = alarmButtons(alarm.ID)
	if _, err := api.Send(msg); err != nil {
		h.logger.Warn("failed to send message", zap.Error(err))
	}
}

func (h *Handlers) runTest(ctx context.Context, api *tgbotapi.BotAPI, chatID int64, item string) {
	result, err := h.monitor.TestItem(ctx, item)
	if err != nil {
		h.reply(api, chatID, h.errorMessage(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, formatTestResult(item, result))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🔗 View on TTC", result.SearchURL),
		),
	)
	if _, err := api.Send(msg); err != nil {
		h.logger.Warn("failed to send test result", zap.Error(err))
	}
}

func (h *Handlers) handleCallback(ctx context.Context, api *tgbotapi.BotAPI, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID
	userID := query.From.ID
	data := query.Data

	if _, err := api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		h.logger.Warn("failed to answer callback", zap.Error(err))
	}

	switch {
	case strings.HasPrefix(data, "del_"):
		alarmID, err := ParseAlarmID(strings.TrimPrefix(data, "del_"))
		if err != nil {
			return
		}
		if err := h.alarmUC.RemoveAlarm(ctx, userID, alarmID); err != nil {
			h.reply(api, chatID, h.errorMessage(err))
			return
		}
		edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID,
			fmt.Sprintf("🗑 Alarm #%d deleted.", alarmID))
		if _, err := api.Send(edit); err != nil {
			h.logger.Warn("failed to edit message", zap.Error(err))
		}
	case strings.HasPrefix(data, "check_"):
		alarmID, err := ParseAlarmID(strings.TrimPrefix(data, "check_"))
		if err != nil {
			return
		}
		user, err := h.userUC.StartOrGetUser(ctx, userID, query.From.UserName)
		if err != nil {
			h.reply(api, chatID, h.errorMessage(err))
			return
		}
		if !h.monitor.CheckNow(user.ID, alarmID) {
			h.reply(api, chatID, "Too many checks queued right now, try again in a moment.")
			return
		}
		h.reply(api, chatID, fmt.Sprintf("🔄 Checking alarm #%d now.", alarmID))
	}
}

func (h *Handlers) errorMessage(err error) string {
	switch {
	case errors.Is(err, usecase.ErrUserNotRegistered):
		return "Please /start first."
	case errors.Is(err, usecase.ErrInvalidItemName):
		return "Item name must be at least 2 characters."
	case errors.Is(err, usecase.ErrInvalidThreshold):
		return "The price must be a positive number of gold, like 50000."
	case errors.Is(err, usecase.ErrDuplicateItem):
		return "You already watch that item. Remove the old alarm first: /list"
	case errors.Is(err, usecase.ErrTooManyAlarms):
		return fmt.Sprintf("You can hold at most %d alarms. Delete some with /list first.", domain.MaxAlarmsPerUser)
	case errors.Is(err, usecase.ErrAlarmNotFound):
		return "Alarm not found. Ids are shown in /list."
	case errors.Is(err, usecase.ErrAlarmNotOwned):
		return "That alarm belongs to someone else."
	case errors.Is(err, domain.ErrItemNotFound):
		return "No TTC listings found for that item. Check the spelling against the TTC site."
	case errors.Is(err, domain.ErrChallengeRequired):
		return "TTC is showing a captcha. Run /test <item name> to solve it in a browser tab."
	case errors.Is(err, domain.ErrChallengeUnresolved):
		return "The captcha was not solved in time. Run /test <item name> and try again."
	case errors.Is(err, domain.ErrTransport):
		return "TTC is unreachable right now. Try again in a few minutes."
	}

	h.logger.Warn("unhandled error", zap.Error(err))
	return "Something went wrong. Please try again."
}

func alarmButtons(alarmID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Check now", fmt.Sprintf("check_%d", alarmID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("del_%d", alarmID)),
		),
	)
}

// reply sends plain text; command usage strings contain literal angle
// brackets that an HTML parse mode would reject.
func (h *Handlers) reply(api *tgbotapi.BotAPI, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := api.Send(msg); err != nil {
		h.logger.Warn("failed to send message", zap.Error(err))
	}
}
