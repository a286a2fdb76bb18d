package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/patmn/loanbook/internal/auth"
	"github.com/patmn/loanbook/internal/config"
	"github.com/patmn/loanbook/internal/notify"
	"github.com/patmn/loanbook/pkg/ledger"
	"github.com/patmn/loanbook/pkg/store"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize storage
	var storage store.Storage
	switch cfg.DBDriver {
	case "postgres":
		storage, err = store.NewPostgresStore(cfg.DBConn, logger)
	default:
		storage, err = store.NewSQLiteStore(cfg.DBConn, logger)
	}
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.DBDriver, err)
	}
	defer storage.Close()

	// Initialize services
	ldgr := ledger.NewLedger(storage, logger)
	if cfg.SMTPConfigured() {
		ldgr.SetNotifier(notify.NewSender(cfg, logger))
	}
	authSvc := auth.NewService(storage, logger, cfg.JWTSecret)
	server := NewServer(storage, authSvc, ldgr, logger)

	// Schedule the overdue loan sweep
	c := cron.New()
	if _, err := c.AddFunc(cfg.OverdueSweepSpec, ldgr.SweepOverdue); err != nil {
		logger.Fatalf("Invalid overdue sweep spec %q: %v", cfg.OverdueSweepSpec, err)
	}
	c.Start()
	defer c.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.routes(cfg.JWTSecret),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
