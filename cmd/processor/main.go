package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/notifier"
	"github.com/vhz-mon/marketwatch/internal/processor"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
	"github.com/vhz-mon/marketwatch/internal/statusapi"
	"github.com/vhz-mon/marketwatch/internal/store"
	"github.com/vhz-mon/marketwatch/pkg/logging"
)

// The processor binary runs the result processor consumer and the
// status HTTP surface side by side in one process.
func main() {
	var cfg config.ProcessorProcessConfig
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

	notify, err := notifier.New(cfg.Notifier, logging.Component(logger, "notifier"))
	if err != nil {
		log.Fatalf("create notifier: %v", err)
	}

	proxies := proxymgr.New(proxymgr.WrapStore(st), cfg.Proxy, logging.Component(logger, "proxymgr"))
	defer proxies.Close()

	status := statusapi.New(st, proxies, cfg.StatusAPI, logging.Component(logger, "statusapi"))
	go func() {
		if err := status.Run(ctx); err != nil {
			logger.Error("status api stopped", "error", err)
		}
	}()

	proc := processor.New(processor.WrapStore(st), kafka, notify, logging.Component(logger, "processor"))

	logger.Info("processor service running")
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("processor stopped: %v", err)
	}
	logger.Info("shutting down")
}
