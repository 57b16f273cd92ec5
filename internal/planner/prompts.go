package planner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/settings"
)

//go:embed prompts/draft_system.md
var draftSystemPrompt string

//go:embed prompts/draft_user.md
var draftUserPrompt string

//go:embed prompts/modify_system.md
var modifySystemPrompt string

//go:embed prompts/modify_user.md
var modifyUserPrompt string

var (
	draftUserTmpl  = template.Must(template.New("draft_user").Parse(draftUserPrompt))
	modifyUserTmpl = template.Must(template.New("modify_user").Parse(modifyUserPrompt))
)

type promptDay struct {
	Date    string
	Weekday string
	Slots   string
}

type draftPromptData struct {
	Days    []promptDay
	History string
}

type modifyPromptData struct {
	CurrentPlan string
	Feedback    string
}

// planningDays lists the dates in [start, start+days) that have at least one
// enabled slot.
func planningDays(cfg settings.Settings, start time.Time, days int) []promptDay {
	var out []promptDay
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		slots := cfg.EnabledSlots(d.Weekday())
		if len(slots) == 0 {
			continue
		}
		names := make([]string, len(slots))
		for j, s := range slots {
			names[j] = string(s)
		}
		out = append(out, promptDay{
			Date:    meal.FormatDate(d),
			Weekday: d.Weekday().String(),
			Slots:   strings.Join(names, ", "),
		})
	}
	return out
}

func buildDraftPrompt(days []promptDay, past []history.Entry) (string, error) {
	data := draftPromptData{Days: days}
	if len(past) > 0 {
		raw, err := json.Marshal(past)
		if err != nil {
			return "", fmt.Errorf("failed to encode history: %w", err)
		}
		data.History = string(raw)
	}
	return render(draftUserTmpl, data)
}

func buildModifyPrompt(plan MealPlan, feedback string) (string, error) {
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	return render(modifyUserTmpl, modifyPromptData{CurrentPlan: string(raw), Feedback: feedback})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
