package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evankirkwood/hearth/internal/assign"
	"github.com/evankirkwood/hearth/internal/config"
	"github.com/evankirkwood/hearth/internal/database"
	"github.com/evankirkwood/hearth/internal/locks"
	"github.com/evankirkwood/hearth/internal/logging"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/scheduler"
	"github.com/evankirkwood/hearth/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	logger := logging.Setup(cfg.Logging.Level)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("resolve timezone: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	persons := store.NewPersonStore(db)
	templates := store.NewTemplateStore(db)
	occurrences := store.NewOccurrenceStore(db)
	rotation := store.NewRotationStore(db)
	settings := store.NewSettingsStore(db)
	sweeps := store.NewSweepStore(db)

	keyed := locks.New(time.Duration(cfg.Scheduler.LockWaitSeconds) * time.Second)
	bus := notify.NewBus(logger)

	assigner := assign.NewService(occurrences, templates, persons, rotation, keyed, bus, loc, logger)

	sched := scheduler.NewService(db, occurrences, templates, persons, sweeps, settings, assigner, bus, loc, logger,
		cfg.Scheduler.DailyHour, cfg.Scheduler.WatchdogRetries)
	if err := sched.Start(cfg.Scheduler.FrequentMinutes); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	var hookServer *http.Server
	if cfg.Notify.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/hooks", notify.Handler(bus))
		hookServer = &http.Server{
			Addr:         cfg.Notify.ListenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("hook listener started", "addr", cfg.Notify.ListenAddr)
			if err := hookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("hook listener: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	if hookServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hookServer.Shutdown(ctx); err != nil {
			logger.Error("hook listener shutdown", "error", err)
		}
	}
}
