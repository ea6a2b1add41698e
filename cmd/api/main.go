package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"shipflosync/internal/api"
	"shipflosync/internal/config"
	"shipflosync/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	if cfg.LogShip.Enabled && cfg.App.LogFile != "" {
		pusher := srv.NewLogPusher()
		pusher.Start()
		defer pusher.Stop()
	}

	httpSrv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Infof("[ShipFlo] %s listening on %s (env %s)", cfg.App.Name, cfg.App.ListenAddr, cfg.App.Env)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("server error: %v", err)
	}
}
