package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/metrics"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/recurrence"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/view"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Refresher re-reads a user's rule after settings change.
type Refresher interface {
	Refresh(userID string) (time.Time, bool)
}

// Deps are the engine components the bot drives. Scheduler and Metrics may be
// nil.
type Deps struct {
	Planner   *planner.Planner
	Settings  *settings.Store
	Views     *view.Builder
	Jobs      *jobs.Tracker
	Scheduler Refresher
	Metrics   *metrics.Store
	DataDir   string
}

// Bot wraps the Telegram API and the planning engine.
type Bot struct {
	api  *tgbotapi.BotAPI
	send Sender
	deps Deps
	cfg  *config.Config
	now  func() time.Time
}

const helpText = `🧑‍🍳 *Meal Calendar*

/plan [days] - generate a draft plan
/feedback <text> - change the draft
/confirm - confirm the draft
/discard - drop the draft
/adjust <text> - change the confirmed plan
/calendar [day|3day|work_week|week|month] - show the calendar
/next - next automatic run
/schedule <day> <HH:MM> - set the automatic run
/status - job status
/cancel - stop the running job`

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, deps Deps) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	slog.Info("telegram: authorized", "account", bot.Self.UserName)

	webhookURL := cfg.TelegramWebhookURL
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", webhookURL, err)
	}
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	slog.Info("telegram: webhook set", "description", resp.Description)

	b := newBot(bot, cfg, deps)
	b.api = bot
	return b, nil
}

func newBot(send Sender, cfg *config.Config, deps Deps) *Bot {
	return &Bot{send: send, deps: deps, cfg: cfg, now: time.Now}
}

// Notifier returns a planner.Notifier that posts through this bot.
func (b *Bot) Notifier() *Notifier {
	return NewNotifier(b.send, b.cfg.AdminTelegramID)
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		slog.Warn("telegram: error parsing update", "error", err)
		return
	}

	if update.CallbackQuery != nil {
		if b.allowed(update.CallbackQuery.From) {
			go b.handleCallbackQuery(update.CallbackQuery)
		}
		return
	}

	if update.Message == nil || !b.allowed(update.Message.From) {
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) allowed(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	if !b.cfg.TelegramUserAllowed(from.ID) {
		slog.Warn("telegram: unauthorized access attempt", "user_id", from.ID, "username", from.UserName)
		return false
	}
	return true
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx := context.Background()
	user := userKey(msg.From.ID)
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "plan":
		b.handlePlan(user, chatID, args)
	case "feedback":
		b.handleFeedback(ctx, user, chatID, args)
	case "confirm":
		b.handleConfirm(ctx, user, chatID)
	case "discard":
		b.handleDiscard(ctx, user, chatID)
	case "adjust":
		b.handleAdjust(user, chatID, args)
	case "calendar":
		b.handleCalendar(ctx, user, chatID, args)
	case "next":
		b.handleNext(ctx, user, chatID)
	case "schedule":
		b.handleSchedule(ctx, user, chatID, args)
	case "status":
		b.handleStatus(user, msg.From.ID, chatID)
	case "cancel":
		b.handleCancel(user, chatID)
	case "":
		// Free text refines a pending draft.
		if _, err := b.deps.Planner.Draft(ctx, user); err == nil {
			b.handleFeedback(ctx, user, chatID, msg.Text)
			return
		}
		b.reply(chatID, helpText)
	default:
		b.reply(chatID, "🤔 Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) handlePlan(user string, chatID int64, args string) {
	req := planner.GenerateRequest{}
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			b.reply(chatID, "Usage: /plan [days]")
			return
		}
		req.Duration = n
	}
	b.startJob(user, chatID, "generate_draft", "🧑‍🍳 *Thinking...*\n(Generating your plan)", func(ctx context.Context) (string, error) {
		draft, err := b.deps.Planner.GenerateDraft(ctx, user, req)
		if err != nil {
			return "", err
		}
		b.sendDraft(chatID, draft)
		return fmt.Sprintf("Draft ready: %d days", len(draft.Days)), nil
	})
}

func (b *Bot) handleFeedback(ctx context.Context, user string, chatID int64, feedback string) {
	if feedback == "" {
		b.reply(chatID, "Usage: /feedback <what to change>")
		return
	}
	if _, err := b.deps.Planner.Draft(ctx, user); err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.startJob(user, chatID, "modify_draft", "✏️ *Updating the draft...*", func(ctx context.Context) (string, error) {
		draft, err := b.deps.Planner.ModifyDraft(ctx, user, feedback)
		if err != nil {
			return "", err
		}
		b.sendDraft(chatID, draft)
		return "Draft updated", nil
	})
}

func (b *Bot) handleAdjust(user string, chatID int64, feedback string) {
	if feedback == "" {
		b.reply(chatID, "Usage: /adjust <what to change>")
		return
	}
	b.startJob(user, chatID, "modify_active", "✏️ *Updating your plan...*", func(ctx context.Context) (string, error) {
		active, err := b.deps.Planner.ModifyActive(ctx, user, feedback)
		if err != nil {
			return "", err
		}
		planText, _ := formatPlanMarkdownParts("Plan updated", &active.MealPlan)
		b.reply(chatID, planText)
		return "Active plan updated", nil
	})
}

// startJob runs fn as the user's background job and acknowledges it. The job
// holds its output until the acknowledgement is sent. Failures are reported
// to the chat when the job ends.
func (b *Bot) startJob(user string, chatID int64, kind, ack string, fn jobs.Func) {
	acked := make(chan struct{})
	_, err := b.deps.Jobs.Start(user, kind, func(ctx context.Context) (string, error) {
		<-acked
		msg, err := fn(ctx)
		if err != nil {
			b.replyErr(chatID, err)
		}
		return msg, err
	})
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, ack)
	close(acked)
}

func (b *Bot) sendDraft(chatID int64, draft *planner.Draft) {
	planText, shoppingText := formatPlanMarkdownParts("Draft Plan", &draft.MealPlan)

	msg := tgbotapi.NewMessage(chatID, planText)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "confirm"),
			tgbotapi.NewInlineKeyboardButtonData("🗑️ Discard", "discard"),
		),
	)
	if _, err := b.send.Send(msg); err != nil {
		slog.Warn("telegram: failed to send draft", "chat", chatID, "error", err)
	}
	b.reply(chatID, shoppingText)
}

func (b *Bot) handleConfirm(ctx context.Context, user string, chatID int64) {
	if _, err := b.deps.Planner.Confirm(ctx, user); err != nil {
		b.replyErr(chatID, err)
		return
	}
	// The Notifier posts the confirmed plan itself.
	b.reply(chatID, "✅ *Plan confirmed* and added to your calendar.")
}

func (b *Bot) handleDiscard(ctx context.Context, user string, chatID int64) {
	if err := b.deps.Planner.DiscardDraft(ctx, user); err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, "🗑️ Draft discarded.")
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()
	user := userKey(query.From.ID)
	if b.api != nil {
		// Answer callback to remove spinner
		b.api.Request(tgbotapi.NewCallback(query.ID, ""))
	}
	if query.Message == nil {
		return
	}

	switch query.Data {
	case "confirm":
		b.handleConfirm(ctx, user, query.Message.Chat.ID)
	case "discard":
		b.handleDiscard(ctx, user, query.Message.Chat.ID)
	}
}

func (b *Bot) handleCalendar(ctx context.Context, user string, chatID int64, args string) {
	mode := args
	if mode == "" {
		cfg, _ := b.deps.Settings.Load(ctx, user)
		mode = cfg.ViewMode
	}
	g, ok := view.ParseGranularity(mode)
	if !ok {
		b.reply(chatID, "Usage: /calendar [day|3day|work_week|week|month]")
		return
	}
	b.reply(chatID, formatCalendar(b.deps.Views.Build(ctx, user, time.Time{}, g)))
}

func (b *Bot) handleNext(ctx context.Context, user string, chatID int64) {
	rule, err := b.deps.Settings.Rule(ctx, user)
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	next, ok := recurrence.NextRun(rule, b.now())
	if !ok {
		b.reply(chatID, "⏸️ Automatic planning is *off*.")
		return
	}
	b.reply(chatID, fmt.Sprintf("⏰ Next automatic plan: *%s*", next.Format("Monday 2006-01-02 15:04")))
}

func (b *Bot) handleSchedule(ctx context.Context, user string, chatID int64, args string) {
	fields := strings.Fields(strings.ToLower(args))
	if len(fields) == 1 && (fields[0] == "on" || fields[0] == "off") {
		cfg, err := b.deps.Settings.Load(ctx, user)
		if err != nil {
			b.replyErr(chatID, err)
			return
		}
		if cfg.ScheduleEnabled != (fields[0] == "on") {
			if _, err := b.deps.Settings.ToggleEnabled(ctx, user); err != nil {
				b.replyErr(chatID, err)
				return
			}
		}
		b.refresh(user)
		b.handleNext(ctx, user, chatID)
		return
	}
	if len(fields) != 2 {
		b.reply(chatID, "Usage: /schedule <weekday or YYYY-MM-DD> <HH:MM>, or /schedule on|off")
		return
	}
	if _, err := b.deps.Settings.UpdateRun(ctx, user, fields[0], fields[1], 0); err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.refresh(user)
	b.handleNext(ctx, user, chatID)
}

func (b *Bot) refresh(user string) {
	if b.deps.Scheduler != nil {
		b.deps.Scheduler.Refresh(user)
	}
}

func (b *Bot) handleStatus(user string, fromID, chatID int64) {
	text := formatJob(b.deps.Jobs.Status(user))
	if fromID == b.cfg.AdminTelegramID && b.deps.Metrics != nil {
		usage, err := b.deps.Metrics.GetDailyUsage(7)
		if err != nil {
			slog.Warn("telegram: failed to fetch metrics", "error", err)
		}
		text += "\n\n" + formatHealth(usage, metrics.GetSysHealth(b.deps.DataDir))
	}
	b.reply(chatID, text)
}

func (b *Bot) handleCancel(user string, chatID int64) {
	if _, err := b.deps.Jobs.Cancel(user); err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, "🛑 Cancelling...")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.send.Send(msg); err != nil {
		slog.Warn("telegram: failed to send message", "chat", chatID, "error", err)
	}
}

func (b *Bot) replyErr(chatID int64, err error) {
	var genErr *planner.GenerationError
	switch {
	case errors.Is(err, planner.ErrNoDraft):
		b.reply(chatID, "📭 No draft yet. Use /plan first.")
	case errors.Is(err, planner.ErrNoActivePlan):
		b.reply(chatID, "📭 No confirmed plan yet.")
	case errors.Is(err, planner.ErrDraftChanged):
		b.reply(chatID, "🔁 Your draft changed while I was working on it. Please try again.")
	case errors.Is(err, planner.ErrNothingToPlan):
		b.reply(chatID, "📭 Every meal slot in that range is switched off.")
	case errors.Is(err, jobs.ErrAlreadyRunning):
		b.reply(chatID, "⏳ Still working on your last request. Use /status or /cancel.")
	case errors.Is(err, jobs.ErrNotRunning):
		b.reply(chatID, "💤 Nothing to cancel.")
	case errors.Is(err, context.Canceled):
		b.reply(chatID, "🛑 Cancelled.")
	case errors.As(err, &genErr):
		slog.Error("telegram: generation failed", "op", genErr.Op, "error", genErr.Err)
		b.reply(chatID, "❌ *Generation failed.* Your previous plan is unchanged, please try again.")
	case errors.Is(err, settings.ErrInvalidRunDay), errors.Is(err, settings.ErrInvalidRunTime):
		b.reply(chatID, "❌ "+err.Error())
	default:
		slog.Error("telegram: request failed", "chat", chatID, "error", err)
		safeErr := strings.ReplaceAll(err.Error(), "`", "'")
		b.reply(chatID, fmt.Sprintf("❌ *Error:*\n```\n%v\n```", safeErr))
	}
}
