package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-meal-calendar/internal/app"
	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/telegram"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.SetupLogging(cfg.LogLevel)

	ctx := context.Background()

	// 2. Initialize storage, generator and planning engine
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer a.Close()

	// 3. Initialize Telegram Bot
	bot, err := telegram.NewBot(cfg, telegram.Deps{
		Planner:   a.Planner,
		Settings:  a.Settings,
		Views:     a.Views,
		Jobs:      a.Jobs,
		Scheduler: a.Scheduler,
		Metrics:   a.Metrics,
		DataDir:   cfg.DataDir,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Telegram Bot: %v", err)
	}
	a.Planner.WithNotifier(bot.Notifier())

	// 4. Arm automatic runs for every known chat
	if err := a.ScheduleKnownUsers(ctx); err != nil {
		log.Fatalf("Failed to register users with the scheduler: %v", err)
	}
	a.Scheduler.Start()

	// 5. Start Server with Graceful Shutdown
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Telegram Bot Server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-a.Scheduler.Stop().Done()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
