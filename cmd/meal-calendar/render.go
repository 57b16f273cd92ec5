package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/view"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	todayStyle   = cellStyle.Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	historyStyle = cellStyle.Foreground(lipgloss.Color("#AAAAAA"))
	windowStyle  = cellStyle.Foreground(lipgloss.Color("#7BC96F"))
)

// writeOutput encodes v as json or yaml. ok is false for any other format so
// the caller can fall back to its own text rendering.
func writeOutput(w io.Writer, format string, v any) (bool, error) {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "", "table", "text":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", format)
}

// renderCalendar draws one row per day and one column per slot.
func renderCalendar(days []view.DayView) string {
	headers := []string{"Date", "Day"}
	for _, s := range meal.Slots {
		headers = append(headers, strings.ToUpper(string(s[:1]))+string(s[1:]))
	}
	headers = append(headers, "")

	rows := make([][]string, 0, len(days))
	for _, d := range days {
		row := []string{d.Date, shortDay(d.Weekday)}
		for _, s := range meal.Slots {
			row = append(row, d.Meals[s].Name)
		}
		row = append(row, dayMarker(d))
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(days) {
				return cellStyle
			}
			d := days[row]
			switch {
			case d.IsToday:
				return todayStyle
			case d.Source == view.FromHistory:
				return historyStyle
			case d.InPlanWindow:
				return windowStyle
			}
			return cellStyle
		})
	return t.Render()
}

func dayMarker(d view.DayView) string {
	switch {
	case d.IsToday:
		return "today"
	case d.InPlanWindow:
		return "next plan"
	case d.Source == view.FromHistory:
		return "history"
	}
	return ""
}

func shortDay(weekday string) string {
	if len(weekday) > 3 {
		return weekday[:3]
	}
	return weekday
}
