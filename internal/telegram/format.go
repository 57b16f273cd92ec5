package telegram

import (
	"fmt"
	"strings"
	"time"

	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/metrics"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/view"
)

var slotIcons = map[meal.Slot]string{
	meal.Breakfast: "🥣",
	meal.Lunch:     "🥗",
	meal.Dinner:    "🍲",
}

func formatPlanMarkdownParts(title string, plan *planner.MealPlan) (string, string) {
	var pb strings.Builder
	pb.WriteString(fmt.Sprintf("📅 *%s*\n\n", title))

	for i := range plan.Days {
		d := &plan.Days[i]
		pb.WriteString(fmt.Sprintf("*%s*\n", dayLabel(d.Date)))
		for _, slot := range meal.Slots {
			m := d.Meal(slot)
			if m == nil {
				continue
			}
			pb.WriteString(fmt.Sprintf("%s %s", slotIcons[slot], m.Name))
			if m.Rating > 0 {
				pb.WriteString(" " + strings.Repeat("⭐", m.Rating))
			}
			pb.WriteString("\n")
			if m.Description != "" {
				pb.WriteString(fmt.Sprintf("_%s_\n", m.Description))
			}
		}
		pb.WriteString("\n")
	}
	if plan.SummaryMessage != "" {
		pb.WriteString(plan.SummaryMessage)
		pb.WriteString("\n")
	}

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	for _, item := range plan.ShoppingList {
		sb.WriteString(fmt.Sprintf("• %s\n", item))
	}

	return pb.String(), sb.String()
}

func dayLabel(date string) string {
	d, err := meal.ParseDate(date, time.UTC)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s %s", d.Weekday(), date)
}

func formatCalendar(days []view.DayView) string {
	var b strings.Builder
	b.WriteString("🗓 *Calendar*\n\n")
	for _, d := range days {
		marker := ""
		switch {
		case d.IsToday:
			marker = " 👈"
		case d.InPlanWindow:
			marker = " 🆕"
		}
		b.WriteString(fmt.Sprintf("*%s %s*%s\n", d.Weekday, d.Date, marker))
		if len(d.Meals) == 0 {
			b.WriteString("_nothing planned_\n")
		}
		for _, slot := range meal.Slots {
			if info, ok := d.Meals[slot]; ok {
				b.WriteString(fmt.Sprintf("%s %s\n", slotIcons[slot], info.Name))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatJob(st jobs.Status) string {
	switch st.State {
	case jobs.Running:
		return fmt.Sprintf("⏳ *%s* is running.", st.Kind)
	case jobs.Cancelling:
		return fmt.Sprintf("🛑 *%s* is being cancelled.", st.Kind)
	}
	switch {
	case st.JobID == "":
		return "💤 Nothing running."
	case st.Error != "":
		return fmt.Sprintf("❌ Last job *%s* failed: %s", st.Kind, st.Error)
	}
	return fmt.Sprintf("✅ Last job *%s*: %s", st.Kind, st.Message)
}

func formatHealth(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Generator Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs, %d failed)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution, d.Failures))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Uptime: %s\n", health.Uptime))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataDiskSize))
	return sb.String()
}
