// Package main запускает HTTP-сервер книжного магазина.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bookstore-coins/internal/config"
	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/handler"
	"github.com/mmeshcher/bookstore-coins/internal/middleware"
	"github.com/mmeshcher/bookstore-coins/internal/notify"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
	"github.com/mmeshcher/bookstore-coins/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	bridge, err := gateway.New(cfg.Gateway())
	if err != nil {
		sugar.Fatalw("payment gateway configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.NotifyURL != "" {
		sender = notify.NewClient(cfg.NotifyURL, logger)
	}
	dispatcher := notify.NewDispatcher(sender, cfg.NotifyQueueSize, logger)

	svc := service.NewService(repo, bridge, dispatcher, service.Options{
		ExchangeRate:  cfg.CoinExchangeRate,
		RewardPercent: cfg.LoyaltyRewardPercent,
		Shipping:      cfg.Shipping(),
	}, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(cfg.CallbackRateLimit, cfg.CallbackRateBurst)
	h := handler.NewHandler(svc, logger, authMiddleware, limiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Доставка уведомлений
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting bookstore server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
