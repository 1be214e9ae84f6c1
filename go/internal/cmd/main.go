package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/room"
)

const releaseVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "wordparty",
		Short:         "Peer-to-peer word party game over NATS.",
		Version:       releaseVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg)
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags(), cfg)

	root.AddCommand(
		newPlayCmd(cfg),
		newRoomsCmd(cfg),
		newGatewayCmd(cfg),
		newCodeCmd(),
	)
	root.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	return root
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code",
		Short: "Print a fresh room code.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := room.NewCode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}
