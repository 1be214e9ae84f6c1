// Package session runs one peer's view of a match: the phase state machine,
// its countdown, and reconciliation with the host's broadcasts.
package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/broadcast"
	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/scoring"
)

var (
	ErrNotHost         = errors.New("only the host can do that")
	ErrWrongPhase      = errors.New("not allowed in the current phase")
	ErrEmptyAnswer     = errors.New("answer is empty")
	ErrUnknownCategory = errors.New("unknown category")
)

// ChatHistory is how many chat messages a peer keeps.
const ChatHistory = 100

// CategorySource hands out the categories for a new round.
type CategorySource interface {
	Categories() ([]string, error)
}

// Config holds match timing.
type Config struct {
	TotalRounds int
	RoundTime   time.Duration
	VoteTime    time.Duration
}

// DefaultConfig returns the standard match settings.
func DefaultConfig() Config {
	return Config{
		TotalRounds: models.DefaultTotalRounds,
		RoundTime:   models.RoundTime,
		VoteTime:    models.VoteTime,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TotalRounds < 1 {
		c.TotalRounds = d.TotalRounds
	}
	if c.RoundTime <= 0 {
		c.RoundTime = d.RoundTime
	}
	if c.VoteTime <= 0 {
		c.VoteTime = d.VoteTime
	}
	return c
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

// Machine is one peer's replica of the match. It does no I/O and is not safe
// for concurrent use: every operation returns the messages the caller must
// broadcast. Session drives it from a single goroutine.
type Machine struct {
	self       models.Identity
	cfg        Config
	categories CategorySource
	rng        *rand.Rand

	state models.RoundState
	host  string

	players []models.Player

	answers        map[int]string
	results        map[string]models.PlayerResult
	votes          models.VoteSet
	scores         models.RoundScoreTable
	submittedRound int
	scoredRound    int
	lastRound      *scoring.RoundResult
	final          *models.FinalSummary
	showResults    bool

	chat     []broadcast.Chat
	chatSeen map[string]struct{}

	// matches this peer has left; their game states are stale
	pastMatches map[string]struct{}
}

// NewMachine creates a machine in the lobby. A nil rng is seeded from the
// current time.
func NewMachine(self models.Identity, cfg Config, categories CategorySource, rng *rand.Rand) *Machine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m := &Machine{
		self:       self,
		cfg:        cfg.withDefaults(),
		categories: categories,
		rng:        rng,
		state:      models.LobbyState(),
		players:    []models.Player{self.Player(false)},
		chatSeen:   make(map[string]struct{}),

		pastMatches: make(map[string]struct{}),
	}
	m.resetMatch()
	return m
}

// State returns a copy of the current round state.
func (m *Machine) State() models.RoundState {
	return m.state.Clone()
}

// IsHost reports whether the local peer currently holds the host lease.
func (m *Machine) IsHost() bool {
	return m.host == m.self.PlayerID
}

func (m *Machine) resetMatch() {
	m.scores = make(models.RoundScoreTable)
	m.scoredRound = 0
	m.lastRound = nil
	m.final = nil
	m.resetRound()
}

// retireMatch remembers the current match as finished for this peer.
func (m *Machine) retireMatch() {
	if m.state.MatchID != "" {
		m.pastMatches[m.state.MatchID] = struct{}{}
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (m *Machine) resetRound() {
	m.answers = make(map[int]string)
	m.results = make(map[string]models.PlayerResult)
	m.votes = make(models.VoteSet)
	m.submittedRound = 0
	m.showResults = false
}

func (m *Machine) drawLetter() string {
	i := m.rng.Intn(len(models.Letters))
	return models.Letters[i : i+1]
}

func (m *Machine) gameState() broadcast.Message {
	return broadcast.GameState{State: m.state.Clone()}
}

// StartGame begins a match from the lobby. Only the host may start one.
// totalRounds < 1 uses the configured match length.
func (m *Machine) StartGame(totalRounds int) ([]broadcast.Message, error) {
	if !m.IsHost() {
		return nil, ErrNotHost
	}
	if m.state.Phase != models.PhaseLobby {
		return nil, fmt.Errorf("%w: start game in %s", ErrWrongPhase, m.state.Phase)
	}
	if totalRounds < 1 {
		totalRounds = m.cfg.TotalRounds
	}
	categories, err := m.categories.Categories()
	if err != nil {
		return nil, fmt.Errorf("draw categories: %w", err)
	}

	m.retireMatch()
	m.resetMatch()
	m.state = models.RoundState{
		MatchID:     newID(),
		Round:       1,
		TotalRounds: totalRounds,
		Letter:      m.drawLetter(),
		Categories:  categories,
		Phase:       models.PhasePlaying,
		TimeLeft:    seconds(m.cfg.RoundTime),
	}
	log.Info().
		Str("player_id", m.self.PlayerID).
		Str("match_id", m.state.MatchID).
		Int("total_rounds", totalRounds).
		Str("letter", m.state.Letter).
		Msg("match started")
	return []broadcast.Message{m.gameState()}, nil
}

// PlayAgain returns a finished match to the lobby. Only the host may do it.
func (m *Machine) PlayAgain() ([]broadcast.Message, error) {
	if !m.IsHost() {
		return nil, ErrNotHost
	}
	if m.state.Phase != models.PhaseFinal {
		return nil, fmt.Errorf("%w: play again in %s", ErrWrongPhase, m.state.Phase)
	}
	lobby := models.LobbyState()
	lobby.MatchID = m.state.MatchID
	m.retireMatch()
	m.resetMatch()
	m.state = lobby
	log.Info().Str("player_id", m.self.PlayerID).Msg("match reset to lobby")
	return []broadcast.Message{m.gameState()}, nil
}

// SetAnswer records the local answer for a category. Blank text clears it.
func (m *Machine) SetAnswer(category int, text string) error {
	if m.state.Phase != models.PhasePlaying {
		return fmt.Errorf("%w: answer in %s", ErrWrongPhase, m.state.Phase)
	}
	if category < 0 || category >= len(m.state.Categories) {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, category)
	}
	if strings.TrimSpace(text) == "" {
		delete(m.answers, category)
		return nil
	}
	m.answers[category] = text
	return nil
}

// ToggleVote flips the local player's vote against one submitted answer.
func (m *Machine) ToggleVote(key string) ([]broadcast.Message, error) {
	if m.state.Phase != models.PhaseVoting {
		return nil, fmt.Errorf("%w: vote in %s", ErrWrongPhase, m.state.Phase)
	}
	playerID, category, err := models.ParseVoteKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCategory, err)
	}
	if category >= len(m.state.Categories) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, category)
	}
	result, ok := m.results[playerID]
	if !ok || strings.TrimSpace(result.Answer(category)) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAnswer, key)
	}

	voters := m.votes.Toggled(key, m.self.PlayerID)
	m.votes.Set(key, voters)
	return []broadcast.Message{broadcast.Vote{Round: m.state.Round, Key: key, Voters: voters}}, nil
}

// SendChat appends a chat message from the local player.
func (m *Machine) SendChat(text string, now time.Time) ([]broadcast.Message, error) {
	msg := broadcast.Chat{
		ID:       newID(),
		PlayerID: m.self.PlayerID,
		Name:     m.self.Name,
		Text:     strings.TrimSpace(text),
		TS:       now.UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	m.appendChat(msg)
	return []broadcast.Message{msg}, nil
}

func (m *Machine) appendChat(msg broadcast.Chat) {
	if _, ok := m.chatSeen[msg.ID]; ok {
		return
	}
	m.chatSeen[msg.ID] = struct{}{}
	m.chat = append(m.chat, msg)
	if over := len(m.chat) - ChatHistory; over > 0 {
		for _, old := range m.chat[:over] {
			delete(m.chatSeen, old.ID)
		}
		m.chat = append([]broadcast.Chat(nil), m.chat[over:]...)
	}
}

// Tick advances the countdown by one second. It does nothing outside timed
// phases.
func (m *Machine) Tick() []broadcast.Message {
	if !m.state.Phase.Timed() {
		return nil
	}
	if m.state.TimeLeft > 0 {
		m.state.TimeLeft--
	}
	if m.state.TimeLeft > 0 {
		return nil
	}

	switch m.state.Phase {
	case models.PhasePlaying:
		return m.expirePlaying()
	case models.PhaseVoting:
		return m.expireVoting()
	}
	return nil
}

// expirePlaying submits the local result and moves to voting. Every peer
// does this on its own clock.
func (m *Machine) expirePlaying() []broadcast.Message {
	out := m.submit()
	m.state.Phase = models.PhaseVoting
	m.state.TimeLeft = seconds(m.cfg.VoteTime)
	m.showResults = true
	log.Info().Str("player_id", m.self.PlayerID).Int("round", m.state.Round).Msg("voting started")
	if m.IsHost() {
		out = append(out, m.gameState())
	}
	return out
}

func (m *Machine) submit() []broadcast.Message {
	if m.submittedRound == m.state.Round {
		return nil
	}
	m.submittedRound = m.state.Round

	answers := make(map[int]string, len(m.answers))
	for i, a := range m.answers {
		answers[i] = a
	}
	result := models.PlayerResult{
		PlayerID: m.self.PlayerID,
		Name:     m.self.Name,
		Letter:   m.state.Letter,
		Answers:  answers,
	}
	m.results[m.self.PlayerID] = result
	return []broadcast.Message{broadcast.PlayerAnswers{
		PlayerID: m.self.PlayerID,
		Round:    m.state.Round,
		Result:   result.Clone(),
	}}
}

// expireVoting scores the round and either ends the match or starts the next
// round. A non-host guesses the next letter; the host's game_state replaces
// the guess when it arrives.
func (m *Machine) expireVoting() []broadcast.Message {
	m.finalizeRound()
	if m.state.IsLastRound() {
		return m.enterFinal()
	}

	next := m.state.Round + 1
	categories := m.state.Categories
	if m.IsHost() {
		drawn, err := m.categories.Categories()
		if err != nil {
			log.Error().Err(err).Int("round", next).Msg("failed to draw categories, reusing previous round's")
		} else {
			categories = drawn
		}
	}

	m.resetRound()
	m.state = models.RoundState{
		MatchID:     m.state.MatchID,
		Round:       next,
		TotalRounds: m.state.TotalRounds,
		Letter:      m.drawLetter(),
		Categories:  categories,
		Phase:       models.PhasePlaying,
		TimeLeft:    seconds(m.cfg.RoundTime),
	}
	log.Info().
		Str("player_id", m.self.PlayerID).
		Int("round", next).
		Str("letter", m.state.Letter).
		Bool("host", m.IsHost()).
		Msg("round started")
	if m.IsHost() {
		return []broadcast.Message{m.gameState()}
	}
	return nil
}

func (m *Machine) enterFinal() []broadcast.Message {
	m.state.Phase = models.PhaseFinal
	m.state.TimeLeft = 0
	m.showResults = false
	summary := models.Summarize(m.scores, m.players)
	m.final = &summary
	log.Info().Str("player_id", m.self.PlayerID).Strs("winners", summary.Winners).Msg("match finished")
	if m.IsHost() {
		return []broadcast.Message{m.gameState(), broadcast.FinalScores{Scores: m.scores.Clone()}}
	}
	return nil
}

// finalizeRound scores the current round once and appends every known
// player's score to the table.
func (m *Machine) finalizeRound() {
	if m.state.Round < 1 || m.scoredRound >= m.state.Round {
		return
	}
	m.scoredRound = m.state.Round

	results := make([]models.PlayerResult, 0, len(m.results))
	for _, r := range m.results {
		results = append(results, r)
	}
	present := len(m.players)
	if present < 1 {
		present = 1
	}
	round := scoring.ScoreRound(scoring.Input{
		Letter:         m.state.Letter,
		Categories:     len(m.state.Categories),
		Results:        results,
		Votes:          m.votes,
		PresentPlayers: present,
	})
	m.lastRound = &round

	totals := round.Totals()
	ids := make(map[string]struct{}, len(m.players)+len(totals))
	for _, p := range m.players {
		ids[p.ID] = struct{}{}
	}
	for id := range totals {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	for _, id := range sorted {
		m.scores.Append(id, totals[id])
	}

	log.Info().
		Str("player_id", m.self.PlayerID).
		Int("round", m.state.Round).
		Int("threshold", round.Threshold).
		Int("results", len(results)).
		Msg("round scored")
}

// SetRoster replaces the player list and host from a presence update. The
// host answers a newcomer or its own takeover with the current state so
// the room converges.
func (m *Machine) SetRoster(players []models.Player, host string) []broadcast.Message {
	known := make(map[string]struct{}, len(m.players))
	for _, p := range m.players {
		known[p.ID] = struct{}{}
	}
	newcomer := false
	for _, p := range players {
		if _, ok := known[p.ID]; !ok && p.ID != m.self.PlayerID {
			newcomer = true
		}
	}

	wasHost := m.IsHost()
	m.players = append([]models.Player(nil), players...)
	m.host = host
	if m.final != nil {
		m.final.Players = append([]models.Player(nil), players...)
	}

	if !m.IsHost() || m.state.Phase == models.PhaseLobby {
		return nil
	}
	if wasHost && !newcomer {
		return nil
	}
	if !wasHost {
		log.Info().Str("player_id", m.self.PlayerID).Str("phase", m.state.Phase.String()).Msg("took over as host")
	}
	out := []broadcast.Message{m.gameState()}
	if m.state.Phase == models.PhaseFinal {
		out = append(out, broadcast.FinalScores{Scores: m.scores.Clone()})
	}
	return out
}

// Apply folds a message from another peer into local state. Messages that do
// not fit the current state are dropped; nothing here is an error.
func (m *Machine) Apply(in broadcast.Inbound) []broadcast.Message {
	switch msg := in.Message.(type) {
	case broadcast.GameState:
		return m.applyGameState(in.Sender, msg.State)
	case broadcast.PlayerAnswers:
		m.applyAnswers(msg)
	case broadcast.Vote:
		m.applyVote(msg)
	case broadcast.FinalScores:
		m.applyFinalScores(msg.Scores)
	case broadcast.Chat:
		m.appendChat(msg)
	default:
		log.Warn().Str("sender", in.Sender).Msgf("unhandled message %T", in.Message)
	}
	return nil
}

// phaseRank orders timed and final phases within one round.
func phaseRank(p models.Phase) int {
	switch p {
	case models.PhasePlaying:
		return 1
	case models.PhaseVoting:
		return 2
	case models.PhaseFinal:
		return 3
	}
	return 0
}

// compareProgress orders two in-match states: round first, then phase.
func compareProgress(a, b models.RoundState) int {
	if a.Round != b.Round {
		if a.Round < b.Round {
			return -1
		}
		return 1
	}
	return phaseRank(a.Phase) - phaseRank(b.Phase)
}

func (m *Machine) applyGameState(sender string, s models.RoundState) []broadcast.Message {
	if s.Equal(m.state) {
		return nil
	}
	logger := log.With().
		Str("player_id", m.self.PlayerID).
		Str("sender", sender).
		Str("local_phase", m.state.Phase.String()).
		Str("phase", s.Phase.String()).
		Int("local_round", m.state.Round).
		Int("round", s.Round).
		Logger()

	if _, left := m.pastMatches[s.MatchID]; left && (s.Phase != models.PhaseLobby || s.MatchID != m.state.MatchID) {
		logger.Debug().Str("match_id", s.MatchID).Msg("dropping game state of a finished match")
		return nil
	}

	if s.Phase == models.PhaseLobby {
		if m.state.Phase != models.PhaseLobby {
			m.retireMatch()
			m.resetMatch()
			logger.Info().Msg("host returned room to lobby")
		}
		m.state = s.Clone()
		return nil
	}

	if m.state.Phase == models.PhaseLobby || s.MatchID != m.state.MatchID {
		// A match we were not part of yet, or one that started while we
		// missed its first broadcasts.
		m.retireMatch()
		m.resetMatch()
		m.state = s.Clone()
		m.enteredFromHost()
		logger.Info().Str("match_id", s.MatchID).Msg("joined match from host state")
		return nil
	}

	// Within one match: round first, then phase.
	switch cmp := compareProgress(s, m.state); {
	case cmp < 0:
		logger.Debug().Msg("dropping stale game state")
		return nil

	case cmp == 0:
		// Same round and phase: the host's copy wins for everything but the
		// collections this peer has gathered.
		m.state = s.Clone()
		return nil

	case s.Round == m.state.Round && s.Phase == models.PhaseVoting:
		out := m.submit()
		m.state = s.Clone()
		m.showResults = true
		logger.Info().Msg("voting started by host")
		return out

	case s.Phase == models.PhaseFinal:
		if m.state.Phase.Timed() {
			m.finalizeRound()
		}
		m.state = s.Clone()
		m.enterFinal()
		return nil

	default:
		if m.state.Phase.Timed() {
			m.finalizeRound()
		}
		m.resetRound()
		m.state = s.Clone()
		m.enteredFromHost()
		logger.Info().Msg("round started by host")
		return nil
	}
}

// enteredFromHost marks a phase joined midway. A peer that missed a round's
// playing phase has nothing to submit for it.
func (m *Machine) enteredFromHost() {
	if m.state.Phase == models.PhaseVoting {
		m.submittedRound = m.state.Round
		m.showResults = true
	}
	if m.state.Phase == models.PhaseFinal {
		summary := models.Summarize(m.scores, m.players)
		m.final = &summary
	}
}

func (m *Machine) applyAnswers(msg broadcast.PlayerAnswers) {
	if !m.state.Phase.Timed() || msg.Round != m.state.Round || m.scoredRound >= msg.Round {
		log.Debug().
			Str("player_id", msg.PlayerID).
			Int("round", msg.Round).
			Int("local_round", m.state.Round).
			Msg("dropping answers for another round")
		return
	}
	result := msg.Result.Clone()
	result.PlayerID = msg.PlayerID
	if result.Letter == "" {
		result.Letter = m.state.Letter
	}
	m.results[msg.PlayerID] = result
}

func (m *Machine) applyVote(msg broadcast.Vote) {
	if !m.state.Phase.Timed() || msg.Round != m.state.Round || m.scoredRound >= msg.Round {
		log.Debug().
			Str("key", msg.Key).
			Int("round", msg.Round).
			Int("local_round", m.state.Round).
			Msg("dropping vote for another round")
		return
	}
	m.votes.Set(msg.Key, msg.Voters)
}

// applyFinalScores fills in rounds this peer missed. Sequences the peer
// derived itself are never replaced.
func (m *Machine) applyFinalScores(scores models.RoundScoreTable) {
	changed := false
	for id, remote := range scores {
		if len(m.scores[id]) < len(remote) {
			m.scores[id] = append([]int(nil), remote...)
			changed = true
		}
	}
	if changed && m.state.Phase == models.PhaseFinal {
		summary := models.Summarize(m.scores, m.players)
		m.final = &summary
	}
}

// Snapshot is a deep copy of everything a client renders.
type Snapshot struct {
	Self        models.Identity                `json:"self"`
	Host        string                         `json:"host"`
	IsHost      bool                           `json:"is_host"`
	State       models.RoundState              `json:"state"`
	ShowResults bool                           `json:"show_results"`
	Answers     map[int]string                 `json:"answers"`
	Results     map[string]models.PlayerResult `json:"results"`
	Votes       models.VoteSet                 `json:"votes"`
	Scores      models.RoundScoreTable         `json:"scores"`
	LastRound   *scoring.RoundResult           `json:"last_round,omitempty"`
	Final       *models.FinalSummary           `json:"final,omitempty"`
	Players     []models.Player                `json:"players"`
	Chat        []broadcast.Chat               `json:"chat"`
}

// Snapshot copies the current state.
func (m *Machine) Snapshot() Snapshot {
	answers := make(map[int]string, len(m.answers))
	for i, a := range m.answers {
		answers[i] = a
	}
	results := make(map[string]models.PlayerResult, len(m.results))
	for id, r := range m.results {
		results[id] = r.Clone()
	}

	snap := Snapshot{
		Self:        m.self,
		Host:        m.host,
		IsHost:      m.IsHost(),
		State:       m.state.Clone(),
		ShowResults: m.showResults,
		Answers:     answers,
		Results:     results,
		Votes:       m.votes.Clone(),
		Scores:      m.scores.Clone(),
		Players:     append([]models.Player(nil), m.players...),
		Chat:        append([]broadcast.Chat(nil), m.chat...),
	}
	if m.lastRound != nil {
		lr := *m.lastRound
		lr.Players = make([]scoring.PlayerScore, len(m.lastRound.Players))
		for i, p := range m.lastRound.Players {
			p.Categories = append([]scoring.CategoryScore(nil), p.Categories...)
			lr.Players[i] = p
		}
		snap.LastRound = &lr
	}
	if m.final != nil {
		f := *m.final
		f.Totals = make(map[string]int, len(m.final.Totals))
		for id, t := range m.final.Totals {
			f.Totals[id] = t
		}
		f.Winners = append([]string(nil), m.final.Winners...)
		f.Players = append([]models.Player(nil), m.final.Players...)
		snap.Final = &f
	}
	return snap
}
