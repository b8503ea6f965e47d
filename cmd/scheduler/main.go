package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/scheduler"
	"github.com/vhz-mon/marketwatch/internal/store"
	"github.com/vhz-mon/marketwatch/pkg/logging"
)

func main() {
	var cfg config.SchedulerProcessConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Init(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	kafka, err := bus.NewKafkaBus(cfg.Bus, logging.Component(logger, "bus"))
	if err != nil {
		log.Fatalf("connect bus: %v", err)
	}
	defer kafka.Close()

	sched := scheduler.New(scheduler.WrapStore(st), kafka, cfg.Scheduler, logging.Component(logger, "scheduler"))
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	logger.Info("scheduler service running")
	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
}
