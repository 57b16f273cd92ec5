package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ai-meal-calendar/internal/api"
	"ai-meal-calendar/internal/app"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/recurrence"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/view"

	"github.com/spf13/cobra"
)

func nextRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next-run",
		Short: "Show when the next automatic plan is generated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				rule, err := a.Settings.Rule(ctx, opts.user)
				if err != nil {
					return err
				}
				next, ok := recurrence.NextRun(rule, time.Now())
				out := map[string]any{"enabled": ok}
				if ok {
					out["next_run"] = next.Format(time.RFC3339)
				}
				if handled, err := writeOutput(cmd.OutOrStdout(), opts.output, out); handled {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Automatic planning is off.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Next run: %s\n", next.Format("Monday 2006-01-02 15:04"))
				return nil
			})
		},
	}
}

func calendarCmd(opts *cliOptions) *cobra.Command {
	var date, mode string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show the calendar around a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				var ref time.Time
				if date != "" {
					d, err := meal.ParseDate(date, time.Local)
					if err != nil {
						return fmt.Errorf("invalid --date %q: %w", date, err)
					}
					ref = d
				}
				if mode == "" {
					cfg, _ := a.Settings.Load(ctx, opts.user)
					mode = cfg.ViewMode
				}
				g, ok := view.ParseGranularity(mode)
				if !ok {
					return fmt.Errorf("invalid --view %q", mode)
				}

				days := a.Views.Build(ctx, opts.user, ref, g)
				if handled, err := writeOutput(cmd.OutOrStdout(), opts.output, days); handled {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderCalendar(days))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Reference date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&mode, "view", "", "day, 3day, work_week, week or month (default from settings)")
	return cmd
}

func generateCmd(opts *cliOptions) *cobra.Command {
	var start string
	var days int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a draft plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				req := planner.GenerateRequest{Duration: days}
				if start != "" {
					d, err := meal.ParseDate(start, time.Local)
					if err != nil {
						return fmt.Errorf("invalid --start %q: %w", start, err)
					}
					req.StartDate = d
				}
				draft, err := a.Planner.GenerateDraft(ctx, opts.user, req)
				if err != nil {
					return err
				}
				return printPlan(cmd, opts, draft, &draft.MealPlan)
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First planned date (YYYY-MM-DD, default next scheduled run)")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days (default from settings)")
	return cmd
}

func draftCmd(opts *cliOptions) *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Show the draft plan, or change it with --feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				var (
					draft *planner.Draft
					err   error
				)
				if feedback != "" {
					draft, err = a.Planner.ModifyDraft(ctx, opts.user, feedback)
				} else {
					draft, err = a.Planner.Draft(ctx, opts.user)
				}
				if err != nil {
					return err
				}
				return printPlan(cmd, opts, draft, &draft.MealPlan)
			})
		},
	}

	cmd.Flags().StringVarP(&feedback, "feedback", "f", "", "Change request applied to the draft")
	return cmd
}

func confirmCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the draft into the calendar and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				active, err := a.Planner.Confirm(ctx, opts.user)
				if err != nil {
					return err
				}
				return printPlan(cmd, opts, active, &active.MealPlan)
			})
		},
	}
}

func discardCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Discard the draft plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Planner.DiscardDraft(ctx, opts.user); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Draft discarded.")
				return nil
			})
		},
	}
}

func modifyActiveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "modify-active <feedback>",
		Short: "Change the confirmed plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				active, err := a.Planner.ModifyActive(ctx, opts.user, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printPlan(cmd, opts, active, &active.MealPlan)
			})
		},
	}
}

// printPlan writes doc in the requested format, or a plain listing of plan.
func printPlan(cmd *cobra.Command, opts *cliOptions, doc any, plan *planner.MealPlan) error {
	w := cmd.OutOrStdout()
	if handled, err := writeOutput(w, opts.output, doc); handled {
		return err
	}
	for i := range plan.Days {
		d := &plan.Days[i]
		fmt.Fprintln(w, d.Date)
		for _, slot := range meal.Slots {
			if m := d.Meal(slot); m != nil {
				fmt.Fprintf(w, "  %-9s %s\n", slot, m.Name)
			}
		}
	}
	if len(plan.ShoppingList) > 0 {
		fmt.Fprintf(w, "\nShopping list: %s\n", strings.Join(plan.ShoppingList, ", "))
	}
	if plan.SummaryMessage != "" {
		fmt.Fprintf(w, "\n%s\n", plan.SummaryMessage)
	}
	return nil
}

func settingsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the planning schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				v, err := a.Settings.Load(ctx, opts.user)
				if err != nil {
					return err
				}
				return printSettings(cmd, opts, v)
			})
		},
	}
	cmd.AddCommand(settingsSetCmd(opts))
	return cmd
}

func settingsSetCmd(opts *cliOptions) *cobra.Command {
	var (
		runDay, runTime, viewMode string
		duration                  int
		enabled                   bool
		toggleSlots               []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change schedule settings",
		Example: `  meal-calendar settings set --run-day Sunday --run-time 18:00
  meal-calendar settings set --toggle-slot monday:lunch --view week`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				v, err := a.Settings.Load(ctx, opts.user)
				if err != nil {
					return err
				}
				flags := cmd.Flags()

				if flags.Changed("run-day") || flags.Changed("run-time") {
					day, at := v.RunDay, v.RunTime
					if flags.Changed("run-day") {
						day = runDay
					}
					if flags.Changed("run-time") {
						at = runTime
					}
					if v, err = a.Settings.UpdateRun(ctx, opts.user, day, at, 0); err != nil {
						return err
					}
				}
				if flags.Changed("duration") {
					if v, err = a.Settings.SetDuration(ctx, opts.user, duration); err != nil {
						return err
					}
				}
				if flags.Changed("view") {
					if v, err = a.Settings.SetViewMode(ctx, opts.user, viewMode); err != nil {
						return err
					}
				}
				if flags.Changed("enabled") && enabled != v.ScheduleEnabled {
					if _, err = a.Settings.ToggleEnabled(ctx, opts.user); err != nil {
						return err
					}
				}
				for _, pair := range toggleSlots {
					weekday, slot, ok := strings.Cut(pair, ":")
					if !ok {
						return fmt.Errorf("invalid --toggle-slot %q, want weekday:slot", pair)
					}
					if _, err = a.Settings.ToggleSlot(ctx, opts.user, weekday, slot); err != nil {
						return err
					}
				}

				if v, err = a.Settings.Load(ctx, opts.user); err != nil {
					return err
				}
				return printSettings(cmd, opts, v)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&runDay, "run-day", "", "Weekday name, or YYYY-MM-DD for a one-off run")
	f.StringVar(&runTime, "run-time", "", "Run time, 24h HH:MM")
	f.IntVar(&duration, "duration", 0, "Days per generated plan")
	f.StringVar(&viewMode, "view", "", "Default calendar view")
	f.BoolVar(&enabled, "enabled", true, "Enable automatic planning")
	f.StringSliceVar(&toggleSlots, "toggle-slot", nil, "Flip a weekday:slot flag (repeatable)")
	return cmd
}

func printSettings(cmd *cobra.Command, opts *cliOptions, v settings.Settings) error {
	format := opts.output
	if format == "" || format == "table" {
		format = "yaml"
	}
	_, err := writeOutput(cmd.OutOrStdout(), format, v)
	return err
}

func metricsCleanupCmd(opts *cliOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete execution metrics older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				n, err := a.Metrics.Cleanup(days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metric rows older than %d days.\n", n, days)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Retention in days")
	return cmd
}

func tokenCmd(opts *cliOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(_ context.Context, a *app.App) error {
				if a.Config.JWTSecret == "" {
					return errors.New("JWT_SECRET is not set; the API runs without authentication")
				}
				token, err := api.IssueToken(a.Config.JWTSecret, opts.user, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}

func serveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the automatic planning scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return serve(ctx, a, opts.user)
			})
		},
	}
}

func serve(ctx context.Context, a *app.App, user string) error {
	if err := a.ScheduleKnownUsers(ctx, user); err != nil {
		return fmt.Errorf("failed to register users with the scheduler: %w", err)
	}
	a.Scheduler.Start()
	slog.Info("scheduler started", "users", a.Scheduler.Users())

	handler := api.NewServer(api.Deps{
		Settings:  a.Settings,
		Calendar:  a.Calendar,
		Views:     a.Views,
		Planner:   a.Planner,
		Jobs:      a.Jobs,
		Scheduler: a.Scheduler,
		Metrics:   a.Metrics,
		Gatherer:  a.Registry,
		DataDir:   a.Config.DataDir,
		JWTSecret: a.Config.JWTSecret,
	}).Handler()

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", a.Config.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		<-a.Scheduler.Stop().Done()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-a.Scheduler.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exiting")
	return nil
}
