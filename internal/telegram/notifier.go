package telegram

import (
	"context"
	"fmt"
	"strconv"

	"ai-meal-calendar/internal/planner"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of tgbotapi.BotAPI the bot needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts confirmed plans to the user's chat.
type Notifier struct {
	send     Sender
	fallback int64
}

// NewNotifier returns a Notifier. Users whose id is not a Telegram id are
// reported to fallback, when non-zero.
func NewNotifier(send Sender, fallback int64) *Notifier {
	return &Notifier{send: send, fallback: fallback}
}

// PlanConfirmed sends the plan and its shopping list.
func (n *Notifier) PlanConfirmed(_ context.Context, userID string, plan *planner.ActivePlan) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		if n.fallback == 0 {
			return nil
		}
		chatID = n.fallback
	}

	planText, shoppingText := formatPlanMarkdownParts("Plan confirmed", &plan.MealPlan)
	for _, text := range []string{planText, shoppingText} {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := n.send.Send(msg); err != nil {
			return fmt.Errorf("failed to notify chat %d: %w", chatID, err)
		}
	}
	return nil
}
