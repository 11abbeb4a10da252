package main

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/passport/adapters/chain"
	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// app holds the wired dependencies of a running instance
type app struct {
	cfg      *config.Config
	logger   watermill.LoggerAdapter
	registry *prometheus.Registry

	auth     *service.AuthService
	sessions *service.SessionManager

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(a.registry)

	var (
		users       ports.UserStore
		sessions    ports.SessionStore
		credentials ports.CredentialStore
	)
	switch cfg.Store.Driver {
	case "memory":
		logger.Info("Using in-memory store", nil)
		users = store.NewMemoryUserStore()
		sessions = store.NewMemorySessionStore()
		credentials = store.NewMemoryCredentialStore()
	default:
		db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		if err := db.Migrate(ctx, logger); err != nil {
			a.Close()
			return nil, err
		}
		if !db.Capabilities().ChainSyncPending {
			logger.Info("Schema has no chain sync column, pending flags disabled", nil)
		}

		users = store.NewSQLUserStore(db)
		sessions = store.NewSQLSessionStore(db)
		credentials = store.NewSQLCredentialStore(db)
	}

	challenges := store.NewMemoryChallengeStore(cfg.WebAuthn.ChallengeTTL)
	var eventPub ports.EventPublisher = events.NopPublisher{}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)

		challenges = store.NewRedisChallengeStore(client, cfg.WebAuthn.ChallengeTTL)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		eventPub = events.NewWatermillPublisher(publisher)
	}

	tok, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	ceremonies, err := service.NewCeremonyManager(service.RelyingParty{
		ID:          cfg.WebAuthn.RPID,
		DisplayName: cfg.WebAuthn.RPName,
		Origins:     cfg.WebAuthn.RPOrigins,
	}, users, credentials, challenges, metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var ledger ports.IdentityLedger
	if cfg.Chain.Enabled() {
		bridge, err := dialChain(ctx, cfg.Chain, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		ledger = bridge
	}

	a.sessions = service.NewSessionManager(tok, sessions, eventPub, cfg.Session.TTL, metrics, logger)
	a.auth = service.NewAuthService(
		users,
		service.NewCredentialVerifier(cfg.Store.BcryptCost),
		ceremonies,
		a.sessions,
		ledger,
		service.Options{
			FallbackEmailDomain: cfg.Chain.FallbackEmailDomain,
			ChainTimeout:        cfg.Chain.CallTimeout,
		},
		metrics,
		logger,
	)

	return a, nil
}

func dialChain(ctx context.Context, cfg config.ChainConfig, logger watermill.LoggerAdapter) (*chain.Bridge, error) {
	multiplier, err := decimal.NewFromString(cfg.GasMultiplier)
	if err != nil {
		return nil, fmt.Errorf("invalid gas multiplier: %w", err)
	}

	bridge, err := chain.Dial(ctx, chain.Config{
		RPCURL:        cfg.RPCURL,
		Contract:      cfg.Contract,
		PrivateKey:    cfg.PrivateKey,
		GasMultiplier: multiplier,
		ProbeTimeout:  cfg.ProbeTimeout,
		PollInterval:  cfg.PollInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !bridge.IsAvailable(ctx) {
		logger.Info("Chain not reachable at startup, contract logins will fall back", watermill.LogFields{"rpc": cfg.RPCURL})
	}
	return bridge, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to close resource", err, nil)
		}
	}
	a.closers = nil
}
