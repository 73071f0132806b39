package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/opencatalog/websso/internal/core"
	"github.com/opencatalog/websso/internal/crypto"
	"github.com/opencatalog/websso/internal/sso"
)

func main() {
	cfg := core.LoadConfig()

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	keys, err := loadKeys(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("key material unavailable")
	}

	resolver := sso.NewMetadataResolver(cfg.IdPEntityID, logger)
	if cfg.IdPMetadataPath != "" {
		metadata, err := os.ReadFile(cfg.IdPMetadataPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.IdPMetadataPath).Msg("cannot read idp metadata")
		}
		resolver.SetMetadata(metadata)
	} else {
		logger.Warn().Msg("no idp metadata configured, login will fail until metadata is supplied")
	}

	clock := clockwork.NewRealClock()
	relay := sso.NewRelayStore(cfg.RelayTTL, clock)
	defer relay.Close()
	replay := sso.NewReplayGuard(cfg.RelayTTL, clock)
	defer replay.Close()
	sessions := sso.NewSessionManager(cfg.SessionTTL, !cfg.IsDevelopment(), clock)

	engine := sso.NewEngine(sso.Config{
		EntityID:       cfg.EntityID,
		ACSURL:         cfg.ACSURL(),
		SLOURL:         cfg.SLOURL(),
		IdPEntityID:    cfg.IdPEntityID,
		OrgName:        cfg.OrgName,
		OrgDisplayName: cfg.OrgDisplayName,
		OrgURL:         cfg.OrgURL,
		TechnicalEmail: cfg.TechnicalEmail,
	}, keys, resolver, relay, replay, sessions, clock, logger)

	server := core.NewServer(cfg, engine, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("entity_id", cfg.EntityID).
			Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
}

func loadKeys(cfg *core.Config, logger zerolog.Logger) (*crypto.KeyStore, error) {
	if cfg.SigningKeyPath != "" && cfg.SigningCertPath != "" {
		return crypto.LoadKeyStore(cfg.SigningKeyPath, cfg.SigningCertPath)
	}
	logger.Warn().Msg("no signing key configured, generating a self-signed development pair")
	return crypto.GenerateKeyStore(cfg.EntityID)
}
