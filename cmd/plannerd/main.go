package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"planner-engine/internal/api"
	"planner-engine/internal/bot"
	"planner-engine/internal/config"
	"planner-engine/internal/logging"
	"planner-engine/internal/repository"
	"planner-engine/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "planner.yaml", "path to the YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New(logging.Options{Console: true})
		boot.Fatal().Err(err).Str("path", *configPath).Msg("config")
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Console: cfg.Log.Console})

	if err := run(ctx, *configPath, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("planner stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, configPath string, cfg config.Config, log zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	ruleRepo := repository.NewRuleRepository(db, loc)

	processor := service.NewProcessor(ruleRepo, service.NewMaterializer(ruleRepo, log), service.ProcessorOptions{
		BackfillLimit: cfg.Scheduler.BackfillLimit,
		Workers:       cfg.Scheduler.Workers,
	}, log)
	scheduler := service.NewSchedulerService(processor, service.SchedulerOptions{
		Interval:    cfg.Scheduler.Interval,
		Location:    loc,
		RunTimeout:  cfg.Scheduler.RunTimeout,
		HistorySize: cfg.Scheduler.HistorySize,
	}, log)
	rules := service.NewRuleService(ruleRepo, taskRepo, service.PreviewLimits{
		MaxWindowDays: cfg.Preview.MaxWindowDays,
		MaxLimit:      cfg.Preview.MaxLimit,
	}, loc, log)
	reports := service.NewReportService(taskRepo, categoryRepo, loc)
	server := api.NewServer(service.NewTaskService(taskRepo, categoryRepo), rules, scheduler,
		api.Options{TriggerPerMinute: cfg.API.TriggerPerMinute}, log)

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Listen).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Telegram.Token != "" {
		telegramBot, err := bot.New(cfg.Telegram.Token, cfg.Telegram.AdminIDs, scheduler, rules, reports, log)
		if err != nil {
			return err
		}
		// Run hooks fire while the run gate is held.
		scheduler.OnRun(func(r service.ProcessingRun) { go telegramBot.NotifyRun(r) })
		g.Go(func() error {
			if err := telegramBot.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Info().Msg("telegram token not set, bot disabled")
	}

	g.Go(func() error {
		return config.Watch(gctx, configPath, logging.Component(log, "config"), func(next config.Config) {
			if err := scheduler.SetInterval(next.Scheduler.Interval); err != nil {
				log.Warn().Err(err).Msg("apply interval")
			}
			scheduler.SetRunTimeout(next.Scheduler.RunTimeout)
			processor.SetOptions(service.ProcessorOptions{
				BackfillLimit: next.Scheduler.BackfillLimit,
				Workers:       next.Scheduler.Workers,
			})
			server.SetTriggerRate(next.API.TriggerPerMinute)
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("scheduler did not drain before timeout")
		}
		return nil
	})

	log.Info().Str("interval", cfg.Scheduler.Interval.String()).Bool("scheduler", cfg.Scheduler.Enabled).Msg("planner engine started")
	return g.Wait()
}
