// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/config"
	"github.com/efchatnet/efgroups/backend/integration"
	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/storage/postgres"
	"github.com/efchatnet/efgroups/backend/storage/sqlite"
	"github.com/efchatnet/efgroups/backend/storage/sqlstore"
	"github.com/efchatnet/efgroups/backend/transport/kafka"
)

// app owns every long-lived resource a command opens.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	store   *sqlstore.Store
	redis   *redis.Client
	engine  *integration.Engine
	closers []io.Closer
}

func openStore(ctx context.Context, cfg config.Config) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.OpenStore(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return sqlite.OpenStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// newApp opens the store, Redis when configured, and builds the engine.
func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	identity, err := keypairs.IdentityFromHex(cfg.IdentityKey)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store)

	if cfg.RedisAddr != "" {
		if a.redis, err = openRedis(ctx, cfg.RedisAddr); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.redis)
	}

	var outbox lifecycle.Outbox
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.OutboxTopic != "" {
		ko := kafka.NewOutbox(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.OutboxTopic))
		a.closers = append(a.closers, ko)
		outbox = ko
	}

	a.engine, err = integration.New(integration.Config{
		Store:          a.store,
		Redis:          a.redis,
		Identity:       identity,
		Outbox:         outbox,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Enabled:        cfg.LegacyGroupsEnabled,
		Logger:         log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info().
		Str("driver", cfg.Driver).
		Bool("redis", a.redis != nil).
		Bool("kafka_outbox", outbox != nil).
		Str("profile_id", identity.ID()).
		Msg("engine ready")
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
