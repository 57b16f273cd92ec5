package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ai-meal-calendar/internal/api"
	"ai-meal-calendar/internal/app"
	"ai-meal-calendar/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	user   string
	output string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "meal-calendar",
		Short: "Recurring meal planning calendar",
		Long: `meal-calendar plans meals on a recurring schedule.

A generated plan is kept as a draft until it is confirmed. Confirming merges the
plan into the calendar and records it in the history, which is what the calendar
shows for past days.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.user, "user", "u", api.DefaultUser, "User whose state is used")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output format (table, json, yaml)")

	cmd.AddCommand(
		nextRunCmd(opts),
		calendarCmd(opts),
		generateCmd(opts),
		draftCmd(opts),
		confirmCmd(opts),
		discardCmd(opts),
		modifyActiveCmd(opts),
		settingsCmd(opts),
		metricsCleanupCmd(opts),
		tokenCmd(opts),
		serveCmd(opts),
	)
	return cmd
}

// withApp loads configuration, builds the App and runs fn with a context that
// is cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close app", "error", err)
		}
	}()

	return fn(ctx, a)
}
