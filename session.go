/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"
	"time"
)

// Phase is one discrete mode of the session state machine.
type Phase uint8

const (
	// PhaseWaiting accepts new participants; no game is running.
	PhaseWaiting Phase = iota
	// PhasePreparing collects a secret question from every participant.
	PhasePreparing
	// PhaseGuessing waits for the active guesser to propose an answer.
	PhaseGuessing
	// PhaseVoting collects ballots on the proposed answer.
	PhaseVoting
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhasePreparing:
		return "preparing"
	case PhaseGuessing:
		return "guessing"
	case PhaseVoting:
		return "voting"
	}

	return "unknown"
}

// Notifier carries the presentation-layer callbacks a session signals as
// its state changes. Any field may be left nil.
type Notifier struct {
	PhaseChanged     func(Phase)
	EventAppended    func(string)
	TurnAdvanced     func(uint16)
	CountdownChanged func(bool)
	Connected        func()
	Disconnected     func()
}

func (n *Notifier) phaseChanged(p Phase) {
	if n.PhaseChanged != nil {
		n.PhaseChanged(p)
	}
}

func (n *Notifier) eventAppended(text string) {
	if n.EventAppended != nil {
		n.EventAppended(text)
	}
}

func (n *Notifier) turnAdvanced(id uint16) {
	if n.TurnAdvanced != nil {
		n.TurnAdvanced(id)
	}
}

func (n *Notifier) countdownChanged(active bool) {
	if n.CountdownChanged != nil {
		n.CountdownChanged(active)
	}
}

func (n *Notifier) connected() {
	if n.Connected != nil {
		n.Connected()
	}
}

func (n *Notifier) disconnected() {
	if n.Disconnected != nil {
		n.Disconnected()
	}
}

// SessionOptions tunes the policy knobs of a session.
type SessionOptions struct {
	// MinPlayers is how many participants must have joined before a game
	// can start. Never less than 2.
	MinPlayers int
	// RejectAdvances controls the post-vote-reject flow: true passes the
	// turn to the next player, false lets the same guesser retry. Tied
	// votes always retry.
	RejectAdvances bool
	// Countdown is the pre-game delay between a start request and the game
	// actually beginning. 0 starts immediately.
	Countdown time.Duration
	// LogCapacity bounds the event log; 0 means the default of 30.
	LogCapacity int
}

// Session is the authoritative state of one game: the current phase, the
// frozen turn order, the answer under vote and its ballots, plus the
// participant registry, round records, and event log it orchestrates.
//
// A Session is not safe for concurrent use. The owning hub funnels all
// inbound events through a single goroutine so they apply one at a time,
// in arrival order; vote tallies depend on that ordering.
type Session struct {
	opts   SessionOptions
	notify Notifier

	registry *Registry
	rounds   *Rounds
	log      *EventLog

	phase           Phase
	turnOrder       []uint16
	guesserIdx      int
	pendingAnswer   string
	ballots         map[uint16]bool
	countdownActive bool
}

func newSession(opts SessionOptions, notify Notifier) *Session {
	if opts.MinPlayers < 2 {
		opts.MinPlayers = 2
	}

	s := &Session{
		opts:     opts,
		notify:   notify,
		registry: newRegistry(),
		rounds:   newRounds(),
		ballots:  make(map[uint16]bool),
	}
	s.log = newEventLog(opts.LogCapacity, s.notify.eventAppended)

	return s
}

func (s *Session) Phase() Phase {
	return s.phase
}

// TurnOrder returns the frozen turn order, empty outside a game.
func (s *Session) TurnOrder() []uint16 {
	out := make([]uint16, len(s.turnOrder))
	copy(out, s.turnOrder)
	return out
}

// ActiveGuesser reports whose turn it is. Only meaningful while guessing
// or voting.
func (s *Session) ActiveGuesser() (uint16, bool) {
	if (s.phase == PhaseGuessing || s.phase == PhaseVoting) && s.guesserIdx < len(s.turnOrder) {
		return s.turnOrder[s.guesserIdx], true
	}

	return 0, false
}

// PendingAnswer returns the answer under vote, empty outside voting.
func (s *Session) PendingAnswer() string {
	return s.pendingAnswer
}

// Ballots returns a copy of the cast votes, keyed by voter id.
func (s *Session) Ballots() map[uint16]bool {
	out := make(map[uint16]bool, len(s.ballots))
	for id, accept := range s.ballots {
		out[id] = accept
	}
	return out
}

func (s *Session) CountdownActive() bool {
	return s.countdownActive
}

// Events returns the session event log, oldest first.
func (s *Session) Events() []string {
	return s.log.Snapshot()
}

// IDs returns the registered participant ids in join order.
func (s *Session) IDs() []uint16 {
	return s.registry.IDs()
}

func (s *Session) Lookup(id uint16) (string, bool) {
	return s.registry.Lookup(id)
}

// Record returns a copy of a participant's round record.
func (s *Session) Record(id uint16) (RoundRecord, bool) {
	rec, ok := s.rounds.Get(id)
	if !ok {
		return RoundRecord{}, false
	}
	return *rec, true
}

func (s *Session) displayName(id uint16) string {
	if name, ok := s.registry.Lookup(id); ok {
		return name
	}

	return fmt.Sprintf("player %d", id)
}

func (s *Session) setPhase(p Phase) {
	if s.phase == p {
		return
	}

	s.phase = p
	s.notify.phaseChanged(p)
}

func (s *Session) stopCountdown() {
	if !s.countdownActive {
		return
	}

	s.countdownActive = false
	s.log.Append("the start countdown was cancelled")
	s.notify.countdownChanged(false)
}

// Join registers a participant. Only legal while waiting for players; a
// join also cancels any running start countdown.
func (s *Session) Join(id uint16, name string) error {
	if s.phase != PhaseWaiting {
		return fmt.Errorf("%w: cannot join while %s", ErrIllegalPhase, s.phase)
	}

	if err := s.registry.Register(id, name); err != nil {
		return err
	}
	s.rounds.Ensure(id)

	s.stopCountdown()
	s.log.Append(name + " joined the game")

	return nil
}

// Leave removes a participant in any phase. Unknown ids are ignored, so
// removal is idempotent. A mid-game departure adjusts the turn order; the
// game force-resets if too few players remain.
func (s *Session) Leave(id uint16) {
	name, ok := s.registry.Lookup(id)
	if !ok {
		return
	}

	s.registry.Unregister(id)
	s.rounds.Remove(id)
	delete(s.ballots, id)
	s.stopCountdown()
	s.log.Append(name + " left the game")

	if s.phase == PhaseWaiting {
		return
	}

	idx := -1
	for i, other := range s.turnOrder {
		if other == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.turnOrder = append(s.turnOrder[:idx], s.turnOrder[idx+1:]...)
	}

	if len(s.turnOrder) < s.opts.MinPlayers {
		s.log.Append("not enough players to continue")
		s.ResetGame()
		return
	}

	switch s.phase {
	case PhasePreparing:
		s.checkAllQuestions()
	case PhaseGuessing, PhaseVoting:
		switch {
		case idx >= 0 && idx < s.guesserIdx:
			s.guesserIdx--
		case idx == s.guesserIdx:
			// The departing guesser forfeits the turn. The next player in
			// order has slid into the vacated slot.
			s.guesserIdx %= len(s.turnOrder)
			s.pendingAnswer = ""
			s.ballots = make(map[uint16]bool)
			s.setPhase(PhaseGuessing)
			next := s.turnOrder[s.guesserIdx]
			s.notify.turnAdvanced(next)
			s.log.Append("it is " + s.displayName(next) + "'s turn")
			return
		}
		// A departed voter may have been the last ballot outstanding.
		s.checkQuorum()
	}
}

// StartGame arms the pre-game countdown, or begins the game immediately
// when no countdown is configured. Requires the minimum player count.
func (s *Session) StartGame() error {
	if s.phase != PhaseWaiting {
		return fmt.Errorf("%w: cannot start while %s", ErrIllegalPhase, s.phase)
	}
	if s.registry.Len() < s.opts.MinPlayers {
		return fmt.Errorf("%w: need at least %d players to start", ErrIllegalPhase, s.opts.MinPlayers)
	}

	if s.opts.Countdown <= 0 {
		s.beginGame()
		return nil
	}

	if s.countdownActive {
		return nil
	}

	s.countdownActive = true
	s.log.Append(fmt.Sprintf("game starting in %s", s.opts.Countdown))
	s.notify.countdownChanged(true)

	return nil
}

// CancelStart stops a running start countdown.
func (s *Session) CancelStart() error {
	if s.phase != PhaseWaiting || !s.countdownActive {
		return fmt.Errorf("%w: no start countdown to cancel", ErrIllegalPhase)
	}

	s.stopCountdown()

	return nil
}

// CountdownElapsed is delivered by the hub when the start countdown timer
// fires. Ignored unless the countdown is still armed.
func (s *Session) CountdownElapsed() {
	if s.phase != PhaseWaiting || !s.countdownActive {
		return
	}

	s.countdownActive = false
	s.notify.countdownChanged(false)
	s.beginGame()
}

// beginGame freezes the turn order to join order and opens the question
// round.
func (s *Session) beginGame() {
	s.turnOrder = s.registry.IDs()
	s.guesserIdx = 0
	for _, id := range s.turnOrder {
		s.rounds.Ensure(id)
	}

	s.setPhase(PhasePreparing)
	s.log.Append("the game has begun; waiting for questions")
}

// SubmitQuestion stores a participant's secret question for the round.
// Questions may be rewritten until every participant has one, at which
// point guessing begins.
func (s *Session) SubmitQuestion(id uint16, text string) error {
	if s.phase != PhasePreparing {
		return fmt.Errorf("%w: cannot submit a question while %s", ErrIllegalPhase, s.phase)
	}
	if _, ok := s.registry.Lookup(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}

	question := strings.TrimSpace(text)
	if question == "" {
		return nil
	}

	s.rounds.Ensure(id).PendingQuestion = question
	s.log.Append(s.displayName(id) + " locked in a question")

	s.checkAllQuestions()

	return nil
}

// checkAllQuestions advances to guessing once every id in the turn order
// holds a non-empty question.
func (s *Session) checkAllQuestions() {
	if s.phase != PhasePreparing {
		return
	}

	for _, id := range s.turnOrder {
		rec, ok := s.rounds.Get(id)
		if !ok || rec.PendingQuestion == "" {
			return
		}
	}

	s.setPhase(PhaseGuessing)
	s.log.Append("all questions are in; guessing begins")

	first := s.turnOrder[s.guesserIdx]
	s.notify.turnAdvanced(first)
	s.log.Append("it is " + s.displayName(first) + "'s turn")
}

// SubmitGuess proposes an answer and opens voting on it. Only the active
// guesser may guess.
func (s *Session) SubmitGuess(id uint16, text string) error {
	if s.phase != PhaseGuessing {
		return fmt.Errorf("%w: cannot guess while %s", ErrIllegalPhase, s.phase)
	}
	if id != s.turnOrder[s.guesserIdx] {
		return fmt.Errorf("%w: not the active guesser", ErrIllegalPhase)
	}

	guess := strings.TrimSpace(text)
	if guess == "" {
		return nil
	}

	if err := s.rounds.RecordGuess(id, guess); err != nil {
		return err
	}

	s.pendingAnswer = guess
	s.ballots = make(map[uint16]bool)
	s.setPhase(PhaseVoting)
	s.log.Append(fmt.Sprintf("%s proposes %q", s.displayName(id), guess))

	return nil
}

// SkipTurn lets the active guesser pass without opening a vote.
func (s *Session) SkipTurn(id uint16) error {
	if s.phase != PhaseGuessing {
		return fmt.Errorf("%w: cannot skip while %s", ErrIllegalPhase, s.phase)
	}
	if id != s.turnOrder[s.guesserIdx] {
		return fmt.Errorf("%w: not the active guesser", ErrIllegalPhase)
	}

	s.rounds.Ensure(id).Skips++
	s.log.Append(s.displayName(id) + " skipped their turn")
	s.advanceTurn()

	return nil
}

// Forfeit lets the active guesser give up; their question is revealed and
// the turn passes on.
func (s *Session) Forfeit(id uint16) error {
	if s.phase != PhaseGuessing {
		return fmt.Errorf("%w: cannot give up while %s", ErrIllegalPhase, s.phase)
	}
	if id != s.turnOrder[s.guesserIdx] {
		return fmt.Errorf("%w: not the active guesser", ErrIllegalPhase)
	}

	rec := s.rounds.Ensure(id)
	rec.Forfeited = true
	s.log.Append(fmt.Sprintf("%s gave up; the question was %q", s.displayName(id), rec.PendingQuestion))
	s.advanceTurn()

	return nil
}

// CastVote records a ballot on the pending answer. Voting again replaces
// the prior ballot (last vote wins); the active guesser may not vote on
// their own answer.
func (s *Session) CastVote(id uint16, accept bool) error {
	if s.phase != PhaseVoting {
		return fmt.Errorf("%w: cannot vote while %s", ErrIllegalPhase, s.phase)
	}
	if _, ok := s.registry.Lookup(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	if id == s.turnOrder[s.guesserIdx] {
		return ErrSelfVote
	}

	verdict := "accept"
	if !accept {
		verdict = "reject"
	}
	if prev, voted := s.ballots[id]; voted {
		if prev == accept {
			return nil
		}
		s.log.Append(fmt.Sprintf("%s changed their vote to %s", s.displayName(id), verdict))
	} else {
		s.log.Append(fmt.Sprintf("%s voted to %s", s.displayName(id), verdict))
	}
	s.ballots[id] = accept

	s.checkQuorum()

	return nil
}

// checkQuorum tallies once every eligible voter (everyone in the turn
// order except the active guesser) has a ballot in.
func (s *Session) checkQuorum() {
	if s.phase != PhaseVoting {
		return
	}
	if len(s.ballots) < len(s.turnOrder)-1 {
		return
	}

	accepts, rejects := 0, 0
	for _, accept := range s.ballots {
		if accept {
			accepts++
		} else {
			rejects++
		}
	}

	active := s.turnOrder[s.guesserIdx]

	switch {
	case accepts > rejects:
		// Record always exists; ensured on join.
		_ = s.rounds.IncrementSuccess(active)
		s.log.Append(fmt.Sprintf("%s's answer %q was accepted %d-%d", s.displayName(active), s.pendingAnswer, accepts, rejects))
		s.advanceTurn()
	case rejects > accepts:
		s.log.Append(fmt.Sprintf("%s's answer %q was rejected %d-%d", s.displayName(active), s.pendingAnswer, rejects, accepts))
		if s.opts.RejectAdvances {
			s.advanceTurn()
		} else {
			s.retryTurn()
		}
	default:
		s.log.Append("the vote was tied; " + s.displayName(active) + " guesses again")
		s.retryTurn()
	}
}

// retryTurn discards the vote and returns the same guesser to guessing.
func (s *Session) retryTurn() {
	s.pendingAnswer = ""
	s.ballots = make(map[uint16]bool)
	s.setPhase(PhaseGuessing)
}

// advanceTurn rotates to the next participant and returns to guessing.
func (s *Session) advanceTurn() {
	s.pendingAnswer = ""
	s.ballots = make(map[uint16]bool)
	s.guesserIdx = (s.guesserIdx + 1) % len(s.turnOrder)
	s.setPhase(PhaseGuessing)

	next := s.turnOrder[s.guesserIdx]
	s.notify.turnAdvanced(next)
	s.log.Append("it is " + s.displayName(next) + "'s turn")
}

// Chat validates the sender for a chat line. Delivery, including hiding a
// line from the active guesser, is the transport's concern; the session
// only vouches for who is speaking.
func (s *Session) Chat(id uint16) (string, error) {
	name, ok := s.registry.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}

	return name, nil
}

// ResetGame returns the session to the waiting phase from any state.
// Participants stay registered; every round record is blanked in place.
func (s *Session) ResetGame() {
	s.turnOrder = nil
	s.guesserIdx = 0
	s.pendingAnswer = ""
	s.ballots = make(map[uint16]bool)
	s.stopCountdown()
	s.rounds.ResetAll()
	s.setPhase(PhaseWaiting)
	s.log.Append("the game has been reset")
}

// clearAll wipes every piece of session state, registry included.
func (s *Session) clearAll() {
	s.turnOrder = nil
	s.guesserIdx = 0
	s.pendingAnswer = ""
	s.ballots = make(map[uint16]bool)
	s.countdownActive = false
	s.registry.Clear()
	s.rounds.Clear()
	s.log.Clear()
	s.setPhase(PhaseWaiting)
}

// Connect marks the session live, starting from a clean slate.
func (s *Session) Connect() {
	s.clearAll()
	s.notify.connected()
}

// ResetSession tears the session down entirely on disconnect: unlike a
// game reset, the participant registry and round records are forgotten.
func (s *Session) ResetSession() {
	s.clearAll()
	s.notify.disconnected()
}
