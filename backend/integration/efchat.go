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

// Package integration assembles the legacy group engine so it can run as a
// standalone service or be embedded into an efchat server.
package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/configsync"
	"github.com/efchatnet/efgroups/backend/handlers"
	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/processor"
	"github.com/efchatnet/efgroups/backend/storage"
	redisstore "github.com/efchatnet/efgroups/backend/storage/redis"
)

// Config holds the collaborators of an Engine. Store and Identity are
// required; Redis enables the config replica, the lifecycle event stream
// and the pending-message outbox.
type Config struct {
	Store    storage.Store
	Redis    *redis.Client
	Identity keypairs.Identity
	// Outbox overrides where key distributions are sent. It defaults to the
	// Redis outbox when Redis is set.
	Outbox lifecycle.Outbox

	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int

	Enabled bool
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Engine wires the membership store, the authoritative config and the
// processor together and serves them over HTTP.
type Engine struct {
	store      storage.Store
	reconciler *configsync.Reconciler
	proc       *processor.Processor
	outbox     *redisstore.Outbox
	limiter    *middleware.RateLimiter
	log        zerolog.Logger

	messageHandler *handlers.MessageHandler
	groupHandler   *handlers.GroupHandler
	outboxHandler  *handlers.OutboxHandler

	jwtSecret      string
	jwtIssuer      string
	allowedOrigins []string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, &ValidationError{Message: "store is not configured"}
	}
	if cfg.Identity.IsZero() {
		return nil, &ValidationError{Message: "identity is not configured"}
	}

	log := cfg.Logger
	e := &Engine{
		store:          cfg.Store,
		log:            log,
		jwtSecret:      cfg.JWTSecret,
		jwtIssuer:      cfg.JWTIssuer,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.RateLimit > 0 {
		e.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	var (
		replica configsync.Replica
		effects lifecycle.Effects = lifecycle.Nop{}
		outbox  = cfg.Outbox
	)
	if cfg.Redis != nil {
		replica = configsync.NewRedisReplica(cfg.Redis)
		effects = redisstore.NewEffects(cfg.Redis, log)
		e.outbox = redisstore.NewOutbox(cfg.Redis)
		if outbox == nil {
			outbox = e.outbox
		}
	}

	var distributor lifecycle.KeyDistributor = lifecycle.NopDistributor{}
	if outbox != nil {
		distributor = lifecycle.NewSealingDistributor(cfg.Identity.ID(), outbox)
	}

	e.reconciler = configsync.New(log, replica)
	e.proc = processor.New(processor.Config{
		Store:       cfg.Store,
		Reconciler:  e.reconciler,
		Effects:     lifecycle.Logged{Next: effects, Log: log.With().Str("component", "lifecycle").Logger()},
		Distributor: distributor,
		Identity:    cfg.Identity,
		Logger:      log,
		Now:         cfg.Now,
		Enabled:     cfg.Enabled,
	})

	e.messageHandler = handlers.NewMessageHandler(e.proc, log)
	e.groupHandler = handlers.NewGroupHandler(cfg.Store)
	if e.outbox != nil {
		e.outboxHandler = handlers.NewOutboxHandler(e.outbox)
	}
	return e, nil
}

// RegisterRoutes adds the legacy group routes to an existing router.
// If authMiddleware is nil, it will use the built-in JWT validation.
func (e *Engine) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/legacy").Subrouter()

	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(e.jwtSecret, e.jwtIssuer))
	}
	if e.limiter != nil {
		api.Use(e.limiter.Middleware)
	}

	// state changes belong to the local party
	owner := middleware.RequireUser(e.proc.LocalID(), middleware.AdminRole)
	ownerOnly := func(fn http.HandlerFunc) http.Handler { return owner(fn) }

	api.Handle("/messages", ownerOnly(e.messageHandler.ProcessMessage)).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups", e.groupHandler.ListGroups).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}", e.groupHandler.GetGroup).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/transcript", e.groupHandler.GetTranscript).Methods("GET", "OPTIONS")
	api.Handle("/contacts/{profileId}/approve", ownerOnly(e.groupHandler.ApproveContact)).Methods("POST", "OPTIONS")

	if e.outboxHandler != nil {
		api.HandleFunc("/outbox", e.outboxHandler.ListPending).Methods("GET", "OPTIONS")
		api.HandleFunc("/outbox/{messageId}/ack", e.outboxHandler.Ack).Methods("POST", "OPTIONS")
	}
}

// Router returns a standalone router with CORS, the API and a health check.
func (e *Engine) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.CORS(e.allowedOrigins))
	e.RegisterRoutes(r, nil)
	r.HandleFunc("/health", e.health).Methods("GET")
	return r
}

func (e *Engine) health(w http.ResponseWriter, r *http.Request) {
	if err := e.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Ping checks the database connection.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.store.(interface{ DB() *sql.DB }); ok {
		return p.DB().PingContext(ctx)
	}
	return e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.ListGroupIDs(ctx, "")
		return err
	})
}

func (e *Engine) Processor() *processor.Processor {
	return e.proc
}

func (e *Engine) Reconciler() *configsync.Reconciler {
	return e.reconciler
}

// SyncReplica pulls the config replica and applies every entry that
// advanced local state. A failing entry is logged and does not stop the
// rest.
func (e *Engine) SyncReplica(ctx context.Context) (int, error) {
	advanced, err := e.reconciler.Pull(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull config replica: %w", err)
	}

	applied := 0
	var errs []error
	for _, entry := range advanced {
		res, err := e.proc.SyncFromConfig(ctx, entry)
		if err != nil {
			e.log.Error().Err(err).Str("thread_id", entry.ThreadID).Msg("sync from config")
			errs = append(errs, err)
			continue
		}
		if res.Outcome == processor.OutcomeApplied {
			applied++
		}
	}
	return applied, errors.Join(errs...)
}

// CleanupOutbox drops expired key distributions. It is a no-op without Redis.
func (e *Engine) CleanupOutbox(ctx context.Context) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.CleanupExpired(ctx)
}

// ResetRateLimits forgets per-caller buckets.
func (e *Engine) ResetRateLimits() {
	if e.limiter != nil {
		e.limiter.Reset()
	}
}

// ValidateSetup checks if the engine is properly configured
func (e *Engine) ValidateSetup(ctx context.Context) error {
	if err := e.Ping(ctx); err != nil {
		return err
	}
	if e.jwtSecret == "" {
		return &ValidationError{Message: "JWT secret is not configured"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
