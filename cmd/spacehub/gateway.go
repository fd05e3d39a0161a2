package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spacehub/internal/auth"
	"spacehub/internal/backend"
	"spacehub/internal/bridge"
	"spacehub/internal/config"
	"spacehub/internal/hub"
	"spacehub/internal/logging"
	"spacehub/internal/server"
	"spacehub/internal/space"
)

const bridgeQueueSize = 4096

func createGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve client websocket connections",
		Long: `Start the HTTP server holding client connections. Configuration comes
from the environment (and a .env file in the working directory, if any).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cfg, logger)
		},
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger, err := logging.Stdout(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func openTransport(cfg config.Config) (bridge.Transport, error) {
	switch cfg.BackendTransport {
	case config.TransportNATS:
		return bridge.NewNATSTransport(cfg.NATSURL, "spacehub-"+cfg.GatewayID)
	case config.TransportRedis:
		return bridge.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.TransportMemory:
		return bridge.NewMemoryTransport(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.BackendTransport)
}

func runGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	gin.SetMode(cfg.GinMode)
	logger = logger.With().Str("gateway", cfg.GatewayID).Logger()

	transport, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("open %s transport: %w", cfg.BackendTransport, err)
	}
	// Both bridges share the memory transport, so the relay's is closed
	// last and the gateway's leave messages still reach it.
	if cfg.BackendTransport == config.TransportMemory {
		relayBridge := bridge.New(transport, "relay-"+cfg.GatewayID, logger, bridgeQueueSize)
		defer relayBridge.Close()
		if err := backend.New(relayBridge, logger).Listen(); err != nil {
			return fmt.Errorf("start in-process relay: %w", err)
		}
		logger.Info().Msg("memory transport: running the relay in-process")
	}

	b := bridge.New(transport, cfg.GatewayID, logger, bridgeQueueSize)
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error().Err(err).Msg("close bridge")
		}
	}()

	conns := hub.New()
	reg := space.NewRegistry(b, conns, logger)
	if err := reg.Listen(); err != nil {
		return fmt.Errorf("subscribe to backend: %w", err)
	}
	defer func() {
		conns.CloseAll()
		reg.Destroy()
	}()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.TokenExpiry(),
		Issuer: "spacehub",
	}
	router, stopRouter := server.NewRouter(server.Deps{
		Registry:    reg,
		Hub:         conns,
		TokenConfig: tokenCfg,
		Logger:      logger,
		SendBuffer:  cfg.SendBuffer,
		WSRateLimit: cfg.WSRateLimit,
	})
	defer stopRouter()

	logger.Info().
		Int("port", cfg.Port).
		Str("transport", cfg.BackendTransport).
		Bool("tls", cfg.TLSCertFile != "" && cfg.TLSKeyFile != "").
		Msg("gateway listening")
	if err := server.Run(ctx, cfg, router); err != nil {
		return err
	}
	logger.Info().Msg("gateway stopped")
	return nil
}
