package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kass/go-mart-connect/internal/config"
	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/kass/go-mart-connect/pkg/store/memory"
	"github.com/kass/go-mart-connect/pkg/store/postgres"
	redisstore "github.com/kass/go-mart-connect/pkg/store/redis"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type martStore interface {
	order.Repository
	catalog.Store
	catalog.Writer
}

// backend is the store selected by STORE_BACKEND.
type backend struct {
	store martStore
	ping  func(ctx context.Context) error
	close func() error
	pg    *postgres.Store
}

func openBackend(ctx context.Context, c config.Config) (*backend, error) {
	switch c.StoreBackend {
	case "postgres":
		pg, err := postgres.Open(postgres.Options{
			Host:         c.DBHost,
			Port:         c.DBPort,
			User:         c.DBUser,
			Password:     c.DBPassword,
			Name:         c.DBName,
			SSLMode:      c.DBSSLMode,
			MaxOpenConns: c.DBMaxOpenConns,
			QueryTimeout: c.DBQueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &backend{store: pg, ping: pg.Ping, close: pg.Close, pg: pg}, nil

	case "redis":
		rs := redisstore.New(redisstore.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.RedisAddr, err)
		}
		log.Info().Str("addr", c.RedisAddr).Int("db", c.RedisDB).Msg("Connected to Redis")
		return &backend{store: rs, ping: rs.Ping, close: rs.Close}, nil

	case "memory":
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		return &backend{
			store: memory.New(),
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.StoreBackend)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.StoreBackend != "postgres" {
		return errors.New("migrate needs STORE_BACKEND=postgres")
	}
	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if err := b.pg.InitSchema(cmd.Context()); err != nil {
		return err
	}
	log.Info().Str("database", cfg.DBName).Msg("Schema is up to date")
	return nil
}
