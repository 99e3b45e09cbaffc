package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
	"github.com/zeusync/crowdsim/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (empty runs the built-in scene)")
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = server.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}

	lg := log.New(log.ParseLevel(cfg.LogLevel))

	srv, err := server.New(cfg, lg)
	if err != nil {
		lg.Error("server assembly failed", log.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stopCh
		lg.Info("shutdown signal received", log.String("signal", sig.String()))
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		lg.Error("server exited", log.Error(err))
		os.Exit(1)
	}
}
