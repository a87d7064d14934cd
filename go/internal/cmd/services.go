package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/clients/grader"
	"github.com/devforge/arena/go/internal/arena/gateway"
	"github.com/devforge/arena/go/internal/arena/publisher"
	"github.com/devforge/arena/go/internal/arena/session"
	"github.com/devforge/arena/go/internal/arena/submissions"
	"github.com/devforge/arena/go/internal/arena/timer"
	"github.com/devforge/arena/go/internal/dbconfig"
)

// Services holds the wired coordinator components.
type Services struct {
	Manager   *gateway.ConnectionManager
	Registry  *session.Registry
	Gateway   *gateway.Service
	Timer     *timer.Controller
	Publisher *publisher.JetStreamPublisher // nil when NATS is disabled
	Pool      *pgxpool.Pool                 // nil when the database is disabled
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up the dependency chain:
	// connection manager → registry → gateway service / timer controller

	var pub *publisher.JetStreamPublisher
	var registryPublisher session.EventPublisher = session.NopPublisher{}
	if config.NATS.Enabled {
		cfg := publisher.DefaultConfig()
		cfg.URL = config.NATS.URL
		p, err := publisher.NewJetStreamPublisher(cfg)
		if err != nil {
			return nil, err
		}
		pub = p
		registryPublisher = p
	}

	var pool *pgxpool.Pool
	var store submissions.Store
	if config.Database.Enabled {
		dbCfg := dbconfig.NewConfigFromEnv()
		p, err := dbCfg.Connect(ctx)
		if err != nil {
			return nil, err
		}
		pool = p
		store = submissions.NewPGStore(pool)
		log.Info().Str("database", dbCfg.Database).Msg("connected to database")
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	registry := session.NewRegistry(session.RegistryConfig{
		Broadcaster: manager,
		Publisher:   registryPublisher,
		GracePeriod: config.GracePeriod(),
	})

	graderClient := grader.NewClient(config.Grader.BaseURL, config.Grader.APIKey)

	gatewayService := gateway.NewService(gateway.ServiceConfig{
		Manager:       manager,
		Registry:      registry,
		Scorer:        graderClient,
		Store:         store,
		ObserverToken: config.Gateway.ObserverToken,
		AdminToken:    config.Gateway.AdminToken,
	})

	timerController := timer.NewController(timer.Config{
		Registry: registry,
		Scorer:   graderClient,
		Store:    store,
	})

	return &Services{
		Manager:   manager,
		Registry:  registry,
		Gateway:   gatewayService,
		Timer:     timerController,
		Publisher: pub,
		Pool:      pool,
	}, nil
}
