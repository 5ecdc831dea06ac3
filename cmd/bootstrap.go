package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/adapters/kv"
	"github.com/satriahrh/arunika/companion/domain/repositories"
	"github.com/satriahrh/arunika/companion/internal/auth"
	"github.com/satriahrh/arunika/companion/internal/config"
	"github.com/satriahrh/arunika/companion/internal/logger"
)

// base is what every command needs before doing anything.
type base struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    repositories.KeyValueStore
	closer   io.Closer
	identity *auth.Session
}

func bootstrap(ctx context.Context, cmd *cobra.Command) (*base, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log.File, cfg.Production())

	store, closer, err := kv.Open(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	if err := cfg.ResolveEndpoints(ctx, store); err != nil {
		closer.Close()
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}

	token, err := auth.ResolveToken(ctx, cfg.Token, store)
	if err != nil {
		closer.Close()
		return nil, err
	}
	parser := auth.NewParser(cfg.JWT.Secret)
	identity, err := parser.ParseIdentity(token)
	if err != nil {
		log.Warn("Access token rejected, continuing as guest", zap.Error(err))
	}

	log.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("wsUrl", cfg.WS.URL),
		zap.String("baseUrl", cfg.Base.URL),
		zap.String("store", cfg.Store.Driver),
		zap.String("userId", identity.UserID),
		zap.Bool("authenticated", identity.Authenticated))

	return &base{
		cfg:      cfg,
		logger:   log,
		store:    store,
		closer:   closer,
		identity: auth.NewSession(parser, store, token, identity),
	}, nil
}

func (b *base) Close() {
	if err := b.closer.Close(); err != nil {
		b.logger.Warn("Failed to close settings store", zap.Error(err))
	}
	_ = b.logger.Sync()
}
