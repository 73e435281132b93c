package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kass/go-mart-connect/pkg/api"
	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/eventbus"
	"github.com/kass/go-mart-connect/pkg/geo"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log.Info().Str("appName", cfg.AppName).Str("backend", cfg.StoreBackend).Msg("Application starting")

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	var notifier order.Notifier = order.NopNotifier{}
	if cfg.RabbitMQURL != "" {
		pub, err := eventbus.Dial(eventbus.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange})
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = pub
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, order events are not published")
	}

	if serveSeedDemo {
		sellers, items := catalog.GenerateDemo(defaultDemoOptions())
		if err := catalog.Load(ctx, b.store, sellers, items); err != nil {
			return err
		}
	}

	catalogSvc := catalog.NewService(b.store, nil)
	if _, err := catalogSvc.RefreshIndex(ctx); err != nil {
		return err
	}
	orderSvc := order.NewService(b.store, notifier, order.ServiceConfig{
		ConflictRetries: cfg.ConflictRetries,
		NotifyTimeout:   cfg.NotifyTimeout,
	})

	handler := &api.Handler{
		Catalog:         catalogSvc,
		Orders:          orderSvc,
		DefaultRadiusKm: cfg.DefaultRadiusKm,
		Ready:           b.ping,
	}
	if cfg.GeocoderURL != "" {
		handler.Geocoder = geo.NewNominatimClient(cfg.GeocoderURL, cfg.GeocoderUserAgent)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-quit:
		log.Info().Str("signal", s.String()).Msg("Application shutting down...")
	case err := <-errc:
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Application stopped")
	return nil
}
