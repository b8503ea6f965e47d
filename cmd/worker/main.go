package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/fetcher"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
	"github.com/vhz-mon/marketwatch/internal/store"
	"github.com/vhz-mon/marketwatch/internal/worker"
	"github.com/vhz-mon/marketwatch/pkg/logging"
)

func main() {
	var cfg config.WorkerProcessConfig
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

	kafka, err := bus.NewKafkaBus(cfg.Bus, logging.Component(logger, "bus"))
	if err != nil {
		log.Fatalf("connect bus: %v", err)
	}
	defer kafka.Close()

	proxies := proxymgr.New(proxymgr.WrapStore(st), cfg.Proxy, logging.Component(logger, "proxymgr"))
	defer proxies.Close()

	w := worker.New(kafka, proxies, fetcher.New(cfg.Fetcher), cfg.Worker, logging.Component(logger, "worker"))

	logger.Info("worker service running")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker stopped: %v", err)
	}
	logger.Info("shutting down")
}
