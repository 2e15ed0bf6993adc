package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/app"
	"github.com/JakeFAU/olx-listing-crawler/internal/config"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	query := flag.String("query", "", "Run one search, print the listings as JSON and exit")
	pages := flag.Int("pages", 0, "Result pages to crawl in one-shot mode (1-5)")
	delivery := flag.Bool("delivery", false, "Only offers with delivery in one-shot mode")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		os.Exit(1)
	}
	defer services.Close()

	if *query != "" {
		opts := listing.SearchOptions{Query: *query, MaxPages: *pages, WithDelivery: *delivery}
		if err := searchOnce(ctx, services, opts, os.Stdout); err != nil {
			logger.Error("search failed", zap.Error(err))
			services.Close()
			os.Exit(1)
		}
		return
	}
	serve(ctx, stop, cfg, services, logger)
}

func searchOnce(ctx context.Context, services *app.App, opts listing.SearchOptions, out io.Writer) error {
	res, err := services.Service().Search(ctx, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Listings); err != nil {
		return fmt.Errorf("encode listings: %w", err)
	}
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg config.Config, services *app.App, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           services.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go services.RunMaintenance(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
