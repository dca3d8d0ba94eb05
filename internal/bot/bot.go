package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"planner-engine/internal/logging"
	"planner-engine/internal/service"
)

const (
	menuLabelStatus = "📊 Status"
	menuLabelRun    = "▶️ Run now"
	menuLabelPause  = "⏸ Pause"
	menuLabelResume = "🔁 Resume"
)

const stopTimeout = 30 * time.Second

// sender is the part of tgbotapi.BotAPI used for replies.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is a Telegram front end for the scheduler, restricted to admin users.
type Bot struct {
	api       *tgbotapi.BotAPI
	out       sender
	scheduler *service.SchedulerService
	rules     *service.RuleService
	reports   *service.ReportService
	admins    map[int64]bool
	log       zerolog.Logger
}

func New(token string, adminIDs []int64, scheduler *service.SchedulerService, rules *service.RuleService, reports *service.ReportService, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	b := newBot(api, adminIDs, scheduler, rules, reports, log)
	b.api = api
	b.log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return b, nil
}

func newBot(out sender, adminIDs []int64, scheduler *service.SchedulerService, rules *service.RuleService, reports *service.ReportService, log zerolog.Logger) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		out:       out,
		scheduler: scheduler,
		rules:     rules,
		reports:   reports,
		admins:    admins,
		log:       logging.Component(log, "bot"),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			continue
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Warn().Err(err).Msg("handle message")
		}
	}

	return nil
}

// NotifyRun sends a run summary to every admin when the run reported errors
// or failed. Clean runs stay quiet.
func (b *Bot) NotifyRun(run service.ProcessingRun) {
	if run.Status == service.RunSkippedOverlap {
		return
	}
	if run.Status != service.RunFailed && len(run.PerRuleErrors) == 0 {
		return
	}
	text := b.reports.RunSummary(run)
	for id := range b.admins {
		if err := b.sendText(id, text); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", id).Msg("send run report")
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if !b.admins[msg.From.ID] {
		b.log.Warn().Int64("user_id", msg.From.ID).Msg("rejected non-admin")
		return b.sendText(msg.Chat.ID, "⛔ This bot only answers its administrators.")
	}

	if !msg.IsCommand() {
		if cmd, ok := menuAlias(msg.Text); ok {
			return b.dispatch(ctx, msg.Chat.ID, cmd, "")
		}
		return b.sendText(msg.Chat.ID, "I did not understand that. Try /help.")
	}

	b.log.Info().Int64("user_id", msg.From.ID).Str("command", msg.Command()).Str("args", msg.CommandArguments()).Msg("command")
	return b.dispatch(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, cmd, args string) error {
	switch cmd {
	case "start", "help":
		return b.handleHelp(chatID)
	case "status":
		return b.sendText(chatID, b.reports.StatusSummary(b.scheduler.State()))
	case "run":
		return b.handleRun(ctx, chatID)
	case "pause":
		return b.handlePause(ctx, chatID)
	case "resume":
		return b.handleResume(chatID)
	case "preview":
		return b.handlePreview(ctx, chatID, args)
	default:
		return b.sendText(chatID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleHelp(chatID int64) error {
	text := "ℹ️ <b>Planner engine</b>\n" +
		"• /status — scheduler state and the last run\n" +
		"• /run — process due occurrences now\n" +
		"• /pause — stop the timer (a running pass finishes)\n" +
		"• /resume — start the timer again\n" +
		"• /preview &lt;rule&gt; [days] — upcoming occurrences of a rule"
	return b.sendText(chatID, text)
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) error {
	run, err := b.scheduler.TriggerNow(ctx)
	switch {
	case errors.Is(err, service.ErrOverlapSkipped):
		return b.sendText(chatID, "⏭ A run is already in progress.")
	case err != nil:
		return b.sendText(chatID, fmt.Sprintf("❌ Run failed: %s", escape(err.Error())))
	}
	return b.sendText(chatID, b.reports.RunSummary(run))
}

func (b *Bot) handlePause(ctx context.Context, chatID int64) error {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := b.scheduler.Stop(ctx); err != nil {
		return b.sendText(chatID, "⏸ Timer stopped; the current run is still finishing.")
	}
	return b.sendText(chatID, "⏸ Scheduler paused.")
}

func (b *Bot) handleResume(chatID int64) error {
	if err := b.scheduler.Start(); err != nil {
		return b.sendText(chatID, fmt.Sprintf("❌ Could not start: %s", escape(err.Error())))
	}
	return b.sendText(chatID, fmt.Sprintf("▶️ Scheduler running every %s.", escape(b.scheduler.State().Interval)))
}

func (b *Bot) handlePreview(ctx context.Context, chatID int64, args string) error {
	ruleID, days, err := parsePreviewArgs(args)
	if err != nil {
		return b.sendText(chatID, "Usage: /preview &lt;rule id&gt; [days]")
	}
	rule, occs, err := b.rules.Preview(ctx, ruleID, days, 0)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not build the preview: %s", escape(err.Error())))
	}
	text, err := b.reports.PreviewSummary(ctx, rule, occs)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not build the preview: %s", escape(err.Error())))
	}
	return b.sendText(chatID, text)
}

func parsePreviewArgs(args string) (uint, int, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, errors.New("expected rule id and optional days")
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "#"), 10, 32)
	if err != nil || id == 0 {
		return 0, 0, fmt.Errorf("invalid rule id %q", fields[0])
	}
	days := 0
	if len(fields) == 2 {
		days, err = strconv.Atoi(fields[1])
		if err != nil || days <= 0 {
			return 0, 0, fmt.Errorf("invalid days %q", fields[1])
		}
	}
	return uint(id), days, nil
}

func menuAlias(text string) (string, bool) {
	switch strings.TrimSpace(text) {
	case menuLabelStatus:
		return "status", true
	case menuLabelRun:
		return "run", true
	case menuLabelPause:
		return "pause", true
	case menuLabelResume:
		return "resume", true
	}
	return "", false
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.out.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelStatus),
			tgbotapi.NewKeyboardButton(menuLabelRun),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelPause),
			tgbotapi.NewKeyboardButton(menuLabelResume),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func escape(s string) string {
	return html.EscapeString(s)
}
