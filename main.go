package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/config"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/routes"
)

func main() {
	config.LoadEnv()
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	application := app.MustNew(cfg)
	defer application.Close()

	s := routes.RegisterRoutes(application.Router, application)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.BootstrapFirstAdmin(ctx, cfg, s.Auth, application.Store); err != nil {
		logger.Log.Errorw("bootstrap admin failed", "err", err)
	}
	cancel()

	logger.Log.Infow("listening", "port", cfg.Port)
	if err := application.Router.Run(":" + cfg.Port); err != nil {
		logger.Log.Errorw("server stopped", "err", err)
	}
}
