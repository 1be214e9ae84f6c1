package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/gateway"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

func newGatewayCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the websocket gateway for browser players.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bus, err := transport.DialNATS(cfg.NATSURL, "wordparty gateway")
			if err != nil {
				return err
			}
			defer func() {
				if err := bus.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close bus")
				}
			}()

			lister, stop, err := openLister(ctx, cfg, bus)
			if err != nil {
				return err
			}
			defer stop()

			cm := gateway.NewConnectionManager(bus, gateway.DefaultConnectionConfig())
			go cm.Start(ctx)

			srv := gateway.NewServer(gateway.Options{
				Addr:      cfg.GatewayAddr,
				PublicURL: cfg.PublicURL,
			}, lister, cm)
			return srv.Run(ctx)
		},
	}
}
