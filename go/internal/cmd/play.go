package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/wordparty/go/internal/broadcast"
	"github.com/mcdev12/wordparty/go/internal/config"
	"github.com/mcdev12/wordparty/go/internal/content"
	"github.com/mcdev12/wordparty/go/internal/directory"
	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/presence"
	"github.com/mcdev12/wordparty/go/internal/profile"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/session"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

// gameSession is the part of session.Session the console drives.
type gameSession interface {
	StartGame(ctx context.Context, totalRounds int) error
	PlayAgain(ctx context.Context) error
	SetAnswer(ctx context.Context, category int, text string) error
	ToggleVote(ctx context.Context, key string) error
	SendChat(ctx context.Context, text string) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

func newPlayCmd(cfg *config.Config) *cobra.Command {
	var hostNew bool

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room and play from the terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), cfg, hostNew, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&hostNew, "host-new", false, "open a new room with a fresh code instead of joining --room")
	return cmd
}

func runPlay(ctx context.Context, cfg *config.Config, hostNew bool, in io.Reader, stdout io.Writer) error {
	out := &lockedWriter{w: stdout}

	name, err := resolveName(ctx, cfg)
	if err != nil {
		return err
	}
	self := models.NewIdentity(name)

	bus, err := transport.DialNATS(cfg.NATSURL, "wordparty "+self.Name)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close bus")
		}
	}()

	var taken func(string) bool
	if hostNew {
		if taken, err = advertisedCodes(ctx, cfg, bus); err != nil {
			return err
		}
	}
	code, err := roomCode(cfg.Room, hostNew, taken)
	if err != nil {
		return err
	}

	lib, err := loadLibrary(cfg.CategoriesFile)
	if err != nil {
		return err
	}
	store, err := openDirectoryStore(ctx, cfg, bus)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	machine := session.NewMachine(self, session.Config{
		TotalRounds: cfg.TotalRounds,
		RoundTime:   cfg.RoundTime,
		VoteTime:    cfg.VoteTime,
	}, content.NewDeck(lib, rng), rng)

	syncer := broadcast.NewSynchronizer(bus, code, self, nil)
	tracker := presence.NewTracker(bus, code, self, presence.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Timeout:           cfg.PresenceTimeout,
		JoinGrace:         cfg.HeartbeatInterval,
	}, nil)
	sess := session.New(machine, syncer, syncer, tracker.Events(), nil)
	advertiser := directory.NewAdvertiser(store, code, self.Name+"'s room", cfg.MaxPlayers, cfg.AdvertiseInterval, nil)

	log.Info().
		Str("room", code).
		Str("player_id", self.PlayerID).
		Str("name", self.Name).
		Msg("joining room")
	fmt.Fprintf(out, "joined room %s as %s (/help for commands)\n", code, self.Name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("presence", tracker.Run)
	run("session", sess.Run)
	run("advertiser", advertiser.Run)

	view := &consoleView{w: out, code: code}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-sess.Updates():
				advertiser.Update(listingFor(snap))
				view.update(snap)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case runErr = <-errCh:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := handleLine(ctx, sess, code, cfg.TotalRounds, out, line); quit {
				break loop
			}
		}
	}

	cancel()
	wg.Wait()
	log.Info().Str("room", code).Msg("left room")
	return runErr
}

// handleLine runs one console line and reports whether the player quit.
func handleLine(ctx context.Context, s gameSession, code string, defaultRounds int, out io.Writer, line string) bool {
	c, err := parseLine(line)
	if err != nil {
		fmt.Fprintln(out, err)
		return false
	}

	switch c.Kind {
	case cmdNone:
		return false
	case cmdQuit:
		return true
	case cmdHelp:
		fmt.Fprintln(out, consoleHelp)
		return false
	case cmdStart:
		rounds := c.Rounds
		if rounds == 0 {
			rounds = defaultRounds
		}
		err = s.StartGame(ctx, rounds)
	case cmdAgain:
		err = s.PlayAgain(ctx)
	case cmdAnswer:
		err = s.SetAnswer(ctx, c.Category, c.Text)
	case cmdChat:
		err = s.SendChat(ctx, c.Text)
	case cmdVote:
		var snap session.Snapshot
		if snap, err = s.Snapshot(ctx); err == nil {
			var key string
			if key, err = voteKey(snap, c); err == nil {
				err = s.ToggleVote(ctx, key)
			}
		}
	case cmdState:
		var snap session.Snapshot
		if snap, err = s.Snapshot(ctx); err == nil {
			var buf bytes.Buffer
			renderSnapshot(&buf, code, snap)
			_, _ = out.Write(buf.Bytes())
		}
	}
	if err != nil {
		fmt.Fprintln(out, describeError(err))
	}
	return false
}

func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotHost):
		return "only the host can do that"
	case errors.Is(err, session.ErrWrongPhase):
		return "not now: " + err.Error()
	}
	return err.Error()
}

func listingFor(snap session.Snapshot) directory.Listing {
	hostName := ""
	for _, p := range snap.Players {
		if p.ID == snap.Host {
			hostName = p.Name
		}
	}
	return directory.Listing{
		Players:  len(snap.Players),
		InMatch:  snap.State.Phase != models.PhaseLobby,
		HostName: hostName,
		IsHost:   snap.IsHost,
	}
}

// roomCode picks the room to join. A new room gets a code taken reports as
// free.
func roomCode(code string, hostNew bool, taken func(string) bool) (string, error) {
	if hostNew {
		return room.NewUniqueCode(taken)
	}
	if code == "" {
		return "", errors.New("pass --room CODE to join a room, or --host-new to open one")
	}
	return room.NormalizeCode(code)
}

// advertisedCodes reports which codes the directory currently lists. The bus
// backend only learns about rooms as hosts refresh, so it listens for one
// heartbeat interval.
func advertisedCodes(ctx context.Context, cfg *config.Config, bus *transport.NATSBus) (func(string) bool, error) {
	lister, stop, err := openLister(ctx, cfg, bus)
	if err != nil {
		return nil, err
	}
	defer stop()

	if cfg.DirectoryBackend == config.DirectoryBus {
		select {
		case <-time.After(cfg.HeartbeatInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	rooms, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list advertised rooms: %w", err)
	}
	codes := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		codes[r.Code] = struct{}{}
	}
	log.Debug().Int("rooms", len(codes)).Msg("checked advertised room codes")
	return func(code string) bool {
		_, ok := codes[code]
		return ok
	}, nil
}

// resolveName returns --name, saving it to the profile store, or the saved
// name when --name is not given.
func resolveName(ctx context.Context, cfg *config.Config) (string, error) {
	store, closeStore, err := openProfileStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeStore()

	if cfg.Name != "" {
		name, err := profile.CleanName(cfg.Name)
		if err != nil {
			return "", err
		}
		if err := store.SetName(ctx, profile.DefaultKey, name); err != nil {
			log.Warn().Err(err).Msg("failed to save display name")
		}
		return name, nil
	}

	name, err := store.GetName(ctx, profile.DefaultKey)
	if errors.Is(err, profile.ErrNotFound) {
		return "", errors.New("no saved display name, pass --name")
	}
	return name, err
}

func openProfileStore(ctx context.Context, cfg *config.Config) (profile.Store, func(), error) {
	if dsn := cfg.ProfileDatabaseURL(); dsn != "" {
		store, pool, err := profile.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, pool.Close, nil
	}

	path := cfg.ProfilePath
	if path == "" {
		var err error
		if path, err = profile.DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	return profile.NewFileStore(path), func() {}, nil
}

func loadLibrary(path string) (*content.Library, error) {
	if path == "" {
		return content.Builtin()
	}
	return content.Load(path)
}

func openDirectoryStore(ctx context.Context, cfg *config.Config, bus *transport.NATSBus) (directory.Store, error) {
	if cfg.DirectoryBackend != config.DirectoryKV {
		return directory.NewBusStore(bus), nil
	}
	js, err := bus.JetStream()
	if err != nil {
		return nil, err
	}
	return directory.OpenKVStore(ctx, js, cfg.DirectoryTTL)
}

// lockedWriter serializes console output from the update loop and the
// command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
