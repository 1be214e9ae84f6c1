package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/session"
)

const consoleHelp = `commands:
  /start [rounds]     start a match (host)
  /answer N text      answer category N; no text clears it
  /vote P N           flag player P's answer to category N as invalid
  /vote PLAYERID:N    the same, by raw vote key
  /again              back to the lobby after a match (host)
  /state              show the room
  /chat text          say something; plain lines are chat too
  /quit               leave the room`

var errUnknownCommand = errors.New("unknown command, try /help")

type commandKind string

const (
	cmdNone   commandKind = ""
	cmdStart  commandKind = "start"
	cmdAgain  commandKind = "again"
	cmdAnswer commandKind = "answer"
	cmdVote   commandKind = "vote"
	cmdChat   commandKind = "chat"
	cmdState  commandKind = "state"
	cmdHelp   commandKind = "help"
	cmdQuit   commandKind = "quit"
)

// consoleCommand is one parsed input line. Category and Player are
// zero-based; Key is set when a vote names its key directly.
type consoleCommand struct {
	Kind     commandKind
	Rounds   int
	Category int
	Player   int
	Key      string
	Text     string
}

func parseLine(line string) (consoleCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleCommand{Kind: cmdNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return consoleCommand{Kind: cmdChat, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "start", "s":
		c := consoleCommand{Kind: cmdStart}
		if rest != "" {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 1 {
				return consoleCommand{}, fmt.Errorf("rounds must be a positive number: %q", rest)
			}
			c.Rounds = n
		}
		return c, nil

	case "answer", "a":
		num, text, _ := strings.Cut(rest, " ")
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 {
			return consoleCommand{}, fmt.Errorf("usage: /answer N text")
		}
		return consoleCommand{Kind: cmdAnswer, Category: n - 1, Text: strings.TrimSpace(text)}, nil

	case "vote", "v":
		fields := strings.Fields(rest)
		if len(fields) == 1 {
			if _, _, err := models.ParseVoteKey(fields[0]); err != nil {
				return consoleCommand{}, err
			}
			return consoleCommand{Kind: cmdVote, Key: fields[0]}, nil
		}
		if len(fields) != 2 {
			return consoleCommand{}, fmt.Errorf("usage: /vote P N")
		}
		p, perr := strconv.Atoi(fields[0])
		n, nerr := strconv.Atoi(fields[1])
		if perr != nil || nerr != nil || p < 1 || n < 1 {
			return consoleCommand{}, fmt.Errorf("usage: /vote P N")
		}
		return consoleCommand{Kind: cmdVote, Player: p - 1, Category: n - 1}, nil

	case "chat", "c":
		if rest == "" {
			return consoleCommand{Kind: cmdNone}, nil
		}
		return consoleCommand{Kind: cmdChat, Text: rest}, nil

	case "again":
		return consoleCommand{Kind: cmdAgain}, nil
	case "state":
		return consoleCommand{Kind: cmdState}, nil
	case "help", "h", "?":
		return consoleCommand{Kind: cmdHelp}, nil
	case "quit", "q", "exit":
		return consoleCommand{Kind: cmdQuit}, nil
	}
	return consoleCommand{}, errUnknownCommand
}

// votingTargets lists the players whose answers are up for review, in the
// order /vote numbers them.
func votingTargets(snap session.Snapshot) []string {
	ids := make([]string, 0, len(snap.Results))
	for id := range snap.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// voteKey resolves a /vote command against the current results.
func voteKey(snap session.Snapshot, c consoleCommand) (string, error) {
	if c.Key != "" {
		return c.Key, nil
	}
	targets := votingTargets(snap)
	if c.Player < 0 || c.Player >= len(targets) {
		return "", fmt.Errorf("no player %d to vote on", c.Player+1)
	}
	if c.Category < 0 || c.Category >= len(snap.State.Categories) {
		return "", fmt.Errorf("no category %d", c.Category+1)
	}
	return models.VoteKey(targets[c.Player], c.Category), nil
}

func playerNames(snap session.Snapshot) map[string]string {
	names := make(map[string]string, len(snap.Players))
	for _, p := range snap.Players {
		names[p.ID] = p.Name
	}
	for id, r := range snap.Results {
		if _, ok := names[id]; !ok && r.Name != "" {
			names[id] = r.Name
		}
	}
	return names
}

func displayName(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// renderSnapshot writes a full view of the room.
func renderSnapshot(w io.Writer, code string, snap session.Snapshot) {
	names := playerNames(snap)
	st := snap.State

	fmt.Fprintf(w, "\n== room %s | %s", code, st.Phase)
	if st.Phase.Timed() {
		fmt.Fprintf(w, " | round %d/%d | letter %s | %ds left", st.Round, st.TotalRounds, st.Letter, st.TimeLeft)
	}
	fmt.Fprintln(w, " ==")

	switch st.Phase {
	case models.PhaseLobby:
		fmt.Fprintf(w, "players (%d):\n", len(snap.Players))
		for _, p := range snap.Players {
			marker := ""
			if p.ID == snap.Host {
				marker = " (host)"
			}
			if p.ID == snap.Self.PlayerID {
				marker += " (you)"
			}
			fmt.Fprintf(w, "  %s%s\n", p.Name, marker)
		}
		if snap.IsHost {
			fmt.Fprintln(w, "you are host: /start to begin")
		} else {
			fmt.Fprintln(w, "waiting for the host to start")
		}

	case models.PhasePlaying:
		renderLastRound(w, names, snap)
		for i, c := range st.Categories {
			fmt.Fprintf(w, "  %2d. %-32s %s\n", i+1, c, snap.Answers[i])
		}

	case models.PhaseVoting:
		for pi, id := range votingTargets(snap) {
			fmt.Fprintf(w, "  [%d] %s\n", pi+1, displayName(names, id))
			res := snap.Results[id]
			for i, c := range st.Categories {
				answer := res.Answer(i)
				if answer == "" {
					continue
				}
				key := models.VoteKey(id, i)
				flag := ""
				if snap.Votes.Has(key, snap.Self.PlayerID) {
					flag = " *"
				}
				fmt.Fprintf(w, "      %2d. %-24s %-20s votes %d%s\n", i+1, c, answer, snap.Votes.Count(key), flag)
			}
		}

	case models.PhaseFinal:
		renderLastRound(w, names, snap)
		if snap.Final != nil {
			ids := make([]string, 0, len(snap.Final.Totals))
			for id := range snap.Final.Totals {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				ti, tj := snap.Final.Totals[ids[i]], snap.Final.Totals[ids[j]]
				if ti != tj {
					return ti > tj
				}
				return ids[i] < ids[j]
			})
			fmt.Fprintf(w, "final scores after %d rounds:\n", snap.Scores.Rounds())
			for _, id := range ids {
				fmt.Fprintf(w, "  %-20s %d\n", displayName(names, id), snap.Final.Totals[id])
			}
			winners := make([]string, len(snap.Final.Winners))
			for i, id := range snap.Final.Winners {
				winners[i] = displayName(names, id)
			}
			fmt.Fprintf(w, "winner: %s\n", strings.Join(winners, ", "))
		}
		if snap.IsHost {
			fmt.Fprintln(w, "/again for another match")
		}
	}
}

func renderLastRound(w io.Writer, names map[string]string, snap session.Snapshot) {
	lr := snap.LastRound
	if lr == nil {
		return
	}
	fmt.Fprintf(w, "last round (%s):", lr.Letter)
	for _, p := range lr.Players {
		fmt.Fprintf(w, " %s %+d (total %d)", displayName(names, p.PlayerID), p.Total, snap.Scores.Total(p.PlayerID))
	}
	fmt.Fprintln(w)
}

// consoleView decides which snapshots are worth printing.
type consoleView struct {
	w    io.Writer
	code string

	shown    bool
	phase    models.Phase
	round    int
	host     string
	players  int
	left     int
	lastChat string
}

func (v *consoleView) update(snap session.Snapshot) {
	var buf bytes.Buffer
	st := snap.State
	if !v.shown || st.Phase != v.phase || st.Round != v.round || snap.Host != v.host || len(snap.Players) != v.players {
		renderSnapshot(&buf, v.code, snap)
		v.shown = true
		v.phase = st.Phase
		v.round = st.Round
		v.host = snap.Host
		v.players = len(snap.Players)
	} else if st.Phase.Timed() && st.TimeLeft != v.left && (st.TimeLeft == 10 || st.TimeLeft == 5) {
		fmt.Fprintf(&buf, "-- %ds left\n", st.TimeLeft)
	}
	v.left = st.TimeLeft
	v.printChat(&buf, snap)

	if buf.Len() > 0 {
		_, _ = v.w.Write(buf.Bytes())
	}
}

func (v *consoleView) printChat(w io.Writer, snap session.Snapshot) {
	start := 0
	if v.lastChat != "" {
		for i, c := range snap.Chat {
			if c.ID == v.lastChat {
				start = i + 1
				break
			}
		}
	}
	for _, c := range snap.Chat[start:] {
		if c.PlayerID == snap.Self.PlayerID {
			continue
		}
		fmt.Fprintf(w, "<%s> %s\n", c.Name, c.Text)
	}
	if n := len(snap.Chat); n > 0 {
		v.lastChat = snap.Chat[n-1].ID
	}
}
