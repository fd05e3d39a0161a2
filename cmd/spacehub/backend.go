package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spacehub/internal/backend"
	"spacehub/internal/bridge"
	"spacehub/internal/config"
)

func createBackendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Run the relay shared by all gateways",
		Long: `Start the backend relay. It keeps the authoritative presence of every
space and rebroadcasts accepted changes to the gateways. Requires
BACKEND_TRANSPORT=nats or redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.BackendTransport == config.TransportMemory {
				return errors.New("the backend needs a shared transport; set BACKEND_TRANSPORT to nats or redis")
			}

			transport, err := openTransport(cfg)
			if err != nil {
				return fmt.Errorf("open %s transport: %w", cfg.BackendTransport, err)
			}
			b := bridge.New(transport, "backend-"+cfg.GatewayID, logger, bridgeQueueSize)
			defer b.Close()

			if err := backend.New(b, logger).Listen(); err != nil {
				return fmt.Errorf("subscribe to gateways: %w", err)
			}
			logger.Info().Str("transport", cfg.BackendTransport).Msg("relay running")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			logger.Info().Msg("relay stopped")
			return nil
		},
	}
}
