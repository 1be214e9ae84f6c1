package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/directory"
	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

func newRoomsCmd(cfg *config.Config) *cobra.Command {
	var all bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List public rooms that can be joined.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, err := transport.DialNATS(cfg.NATSURL, "wordparty rooms")
			if err != nil {
				return err
			}
			defer bus.Close()

			lister, stop, err := openLister(cmd.Context(), cfg, bus)
			if err != nil {
				return err
			}
			defer stop()

			if cfg.DirectoryBackend == config.DirectoryBus {
				// Bus listings arrive on the hosts' refresh cycle.
				if wait == 0 {
					wait = cfg.AdvertiseInterval + time.Second
				}
				select {
				case <-time.After(wait):
				case <-cmd.Context().Done():
					return nil
				}
			}

			rooms, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			if !all {
				rooms = directory.Joinable(rooms)
			}
			printRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include full rooms and rooms mid-match")
	cmd.Flags().DurationVar(&wait, "wait", 0, "how long to collect listings from the bus (default: advertise interval + 1s)")
	return cmd
}

// openLister returns the configured directory reader. stop releases it.
func openLister(ctx context.Context, cfg *config.Config, bus *transport.NATSBus) (directory.Lister, func(), error) {
	if cfg.DirectoryBackend == config.DirectoryKV {
		js, err := bus.JetStream()
		if err != nil {
			return nil, nil, err
		}
		kv, err := directory.OpenKVStore(ctx, js, cfg.DirectoryTTL)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	}

	browser := directory.NewBrowser(bus, cfg.DirectoryTTL, nil)
	if err := browser.Start(); err != nil {
		return nil, nil, err
	}
	return browser, func() {
		if err := browser.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop room browser")
		}
	}, nil
}

func printRooms(w io.Writer, rooms []models.PublicRoomSummary) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "no public rooms right now")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tHOST\tPLAYERS\tSTATUS")
	for _, r := range rooms {
		status := "open"
		if r.InMatch {
			status = "playing"
		} else if r.Players >= r.MaxPlayers {
			status = "full"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", r.Code, r.Name, r.HostName, r.Players, r.MaxPlayers, status)
	}
	_ = tw.Flush()
}
