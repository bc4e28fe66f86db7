// Package main is the entry point for the chatgateway server.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/howard-nolan/chatgateway/internal/backend"
	"github.com/howard-nolan/chatgateway/internal/chat"
	"github.com/howard-nolan/chatgateway/internal/config"
	"github.com/howard-nolan/chatgateway/internal/server"
	"github.com/howard-nolan/chatgateway/internal/store"
	"github.com/howard-nolan/chatgateway/internal/transport"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// One store constructor per persistence kind, keyed the same way the
	// config names them. Each backend gets its own namespaced view so
	// conversations never collide across backends.
	newStore := func(p backend.Profile) (store.Store, error) {
		switch cfg.Store.Kind {
		case "memory":
			return store.NewMemory(p.Namespace()), nil
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr: cfg.Store.Redis.Addr,
				DB:   cfg.Store.Redis.DB,
			})
			return store.NewRedis(p.Namespace(), client), nil
		case "bolt":
			return store.NewBolt(p.Namespace(), cfg.Store.Bolt.Path)
		default:
			return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
		}
	}

	senders := make(map[string]server.Sender)

	for name, bc := range cfg.Backends {
		profile, err := bc.Resolve()
		if err != nil {
			log.Fatal().Err(err).Str("backend", name).Msg("invalid backend config")
		}

		st, err := newStore(profile)
		if err != nil {
			log.Fatal().Err(err).Str("backend", name).Msg("failed to build store")
		}

		client := transport.New(profile, bc.APIKey, bc.BaseURL, http.DefaultClient, log)
		senders[name] = chat.New(profile, bc.Model, st, client, log)

		log.Info().
			Str("backend", name).
			Str("profile", profile.Name).
			Str("model", bc.Model).
			Msg("registered backend")
	}

	srv := server.New(cfg, senders, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info().Int("port", cfg.Server.Port).Msg("chatgateway listening")

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
