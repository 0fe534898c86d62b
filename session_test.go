package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifications struct {
	phases      []Phase
	events      []string
	turns       []uint16
	countdowns  []bool
	connects    int
	disconnects int
}

func newTestSession(opts SessionOptions) (*Session, *notifications) {
	n := &notifications{}

	s := newSession(opts, Notifier{
		PhaseChanged:     func(p Phase) { n.phases = append(n.phases, p) },
		EventAppended:    func(text string) { n.events = append(n.events, text) },
		TurnAdvanced:     func(id uint16) { n.turns = append(n.turns, id) },
		CountdownChanged: func(active bool) { n.countdowns = append(n.countdowns, active) },
		Connected:        func() { n.connects++ },
		Disconnected:     func() { n.disconnects++ },
	})

	return s, n
}

// joinPlayers registers ids 1..count with names player1..playerN.
func joinPlayers(t *testing.T, s *Session, count int) {
	t.Helper()

	names := []string{"alice", "bob", "carol", "dave", "erin"}
	for i := 0; i < count; i++ {
		require.NoError(t, s.Join(uint16(i+1), names[i]))
	}
}

// startGuessing joins count players and drives the session into the
// guessing phase with id 1 as the active guesser.
func startGuessing(t *testing.T, s *Session, count int) {
	t.Helper()

	joinPlayers(t, s, count)
	require.NoError(t, s.StartGame())
	require.Equal(t, PhasePreparing, s.Phase())

	questions := []string{"elephant", "violin", "volcano", "submarine", "comet"}
	for i := 0; i < count; i++ {
		require.NoError(t, s.SubmitQuestion(uint16(i+1), questions[i]))
	}
	require.Equal(t, PhaseGuessing, s.Phase())
}

func TestJoinRegistersParticipants(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})

	joinPlayers(t, s, 3)

	assert.Equal(t, []uint16{1, 2, 3}, s.IDs())
	name, ok := s.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, "bob", name)
}

func TestJoinDuplicateIDRejected(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	require.NoError(t, s.Join(1, "alice"))

	err := s.Join(1, "impostor")
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	name, _ := s.Lookup(1)
	assert.Equal(t, "alice", name)
	assert.Equal(t, []uint16{1}, s.IDs())
}

func TestJoinRejectedOutsideWaiting(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	joinPlayers(t, s, 2)
	require.NoError(t, s.StartGame())

	err := s.Join(3, "latecomer")
	assert.ErrorIs(t, err, ErrIllegalPhase)
	assert.Equal(t, []uint16{1, 2}, s.IDs())
}

func TestStartGameEntersPreparingNotGuessing(t *testing.T) {
	s, n := newTestSession(SessionOptions{})
	joinPlayers(t, s, 3)

	require.NoError(t, s.StartGame())

	assert.Equal(t, PhasePreparing, s.Phase())
	assert.NotEqual(t, PhaseGuessing, s.Phase())
	assert.Equal(t, []uint16{1, 2, 3}, s.TurnOrder())
	assert.Equal(t, []Phase{PhasePreparing}, n.phases)

	// The active guesser is not meaningful until guessing begins.
	_, ok := s.ActiveGuesser()
	assert.False(t, ok)
}

func TestStartGameRequiresMinimumPlayers(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	require.NoError(t, s.Join(1, "alice"))

	err := s.StartGame()
	assert.ErrorIs(t, err, ErrIllegalPhase)
	assert.Equal(t, PhaseWaiting, s.Phase())
}

func TestPreparingAdvancesOnceAllQuestionsIn(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	joinPlayers(t, s, 3)
	require.NoError(t, s.StartGame())

	require.NoError(t, s.SubmitQuestion(1, "elephant"))
	assert.Equal(t, PhasePreparing, s.Phase())

	require.NoError(t, s.SubmitQuestion(2, "violin"))
	assert.Equal(t, PhasePreparing, s.Phase())

	require.NoError(t, s.SubmitQuestion(3, "volcano"))
	assert.Equal(t, PhaseGuessing, s.Phase())

	active, ok := s.ActiveGuesser()
	assert.True(t, ok)
	assert.Equal(t, uint16(1), active)
}

func TestFullRoundWithUnanimousAccept(t *testing.T) {
	s, n := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	require.NoError(t, s.SubmitGuess(1, "big gray animal"))
	assert.Equal(t, PhaseVoting, s.Phase())
	assert.Equal(t, "big gray animal", s.PendingAnswer())

	require.NoError(t, s.CastVote(2, true))
	assert.Equal(t, PhaseVoting, s.Phase())

	require.NoError(t, s.CastVote(3, true))

	rec, ok := s.Record(1)
	require.True(t, ok)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, []string{"big gray animal"}, rec.GuessHistory)

	assert.Equal(t, PhaseGuessing, s.Phase())
	assert.Empty(t, s.PendingAnswer())
	assert.Empty(t, s.Ballots())

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
	assert.Contains(t, n.turns, uint16(2))
}

func TestSelfVoteRejected(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	err := s.CastVote(1, true)
	assert.ErrorIs(t, err, ErrSelfVote)
	assert.Empty(t, s.Ballots())
	assert.Equal(t, PhaseVoting, s.Phase())
}

func TestVoteOverwriteLastWins(t *testing.T) {
	s, _ := newTestSession(SessionOptions{RejectAdvances: true})
	startGuessing(t, s, 4)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	require.NoError(t, s.CastVote(2, true))
	require.NoError(t, s.CastVote(2, false))
	assert.Len(t, s.Ballots(), 1)
	assert.False(t, s.Ballots()[2])

	require.NoError(t, s.CastVote(3, false))
	require.NoError(t, s.CastVote(4, false))

	// 0 accepts vs 3 rejects; no success, turn passed on.
	rec, _ := s.Record(1)
	assert.Zero(t, rec.SuccessCount)

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestTieVoteRetriesSameGuesser(t *testing.T) {
	s, _ := newTestSession(SessionOptions{RejectAdvances: true})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	require.NoError(t, s.CastVote(2, true))
	require.NoError(t, s.CastVote(3, false))

	assert.Equal(t, PhaseGuessing, s.Phase())
	assert.Empty(t, s.PendingAnswer())
	assert.Empty(t, s.Ballots())

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(1), active)

	rec, _ := s.Record(1)
	assert.Zero(t, rec.SuccessCount)
}

func TestMajorityRejectAdvancesByPolicy(t *testing.T) {
	s, _ := newTestSession(SessionOptions{RejectAdvances: true})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	require.NoError(t, s.CastVote(2, false))
	require.NoError(t, s.CastVote(3, false))

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestMajorityRejectRetriesByPolicy(t *testing.T) {
	s, _ := newTestSession(SessionOptions{RejectAdvances: false})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	require.NoError(t, s.CastVote(2, false))
	require.NoError(t, s.CastVote(3, false))

	assert.Equal(t, PhaseGuessing, s.Phase())
	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(1), active)
}

func TestIllegalPhaseEventsHaveNoSideEffect(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "first"))

	// Guessing-only events during voting.
	assert.ErrorIs(t, s.SubmitGuess(1, "second"), ErrIllegalPhase)
	assert.ErrorIs(t, s.SkipTurn(1), ErrIllegalPhase)
	assert.ErrorIs(t, s.Forfeit(1), ErrIllegalPhase)
	assert.ErrorIs(t, s.SubmitQuestion(1, "late"), ErrIllegalPhase)
	assert.ErrorIs(t, s.StartGame(), ErrIllegalPhase)

	assert.Equal(t, PhaseVoting, s.Phase())
	assert.Equal(t, "first", s.PendingAnswer())

	rec, _ := s.Record(1)
	assert.Equal(t, []string{"first"}, rec.GuessHistory)
}

func TestGuessFromNonActivePlayerRejected(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	err := s.SubmitGuess(2, "out of turn")
	assert.ErrorIs(t, err, ErrIllegalPhase)
	assert.Equal(t, PhaseGuessing, s.Phase())

	rec, _ := s.Record(2)
	assert.Empty(t, rec.GuessHistory)
}

func TestVoteFromUnknownParticipantRejected(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))

	err := s.CastVote(42, true)
	assert.ErrorIs(t, err, ErrUnknownParticipant)
	assert.Empty(t, s.Ballots())
}

func TestResetGameDuringVoting(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)
	require.NoError(t, s.SubmitGuess(1, "guess"))
	require.NoError(t, s.CastVote(2, true))

	s.ResetGame()

	assert.Equal(t, PhaseWaiting, s.Phase())
	assert.Empty(t, s.TurnOrder())
	assert.Empty(t, s.PendingAnswer())
	assert.Empty(t, s.Ballots())
	assert.False(t, s.CountdownActive())

	// Participants stay registered, but their records are blanked.
	assert.Equal(t, []uint16{1, 2, 3}, s.IDs())
	for _, id := range []uint16{1, 2, 3} {
		rec, ok := s.Record(id)
		require.True(t, ok)
		assert.Zero(t, rec.SuccessCount)
		assert.Empty(t, rec.PendingQuestion)
		assert.Empty(t, rec.GuessHistory)
	}
}

func TestResetSessionForgetsEverything(t *testing.T) {
	s, n := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	s.ResetSession()

	assert.Equal(t, PhaseWaiting, s.Phase())
	assert.Empty(t, s.IDs())
	assert.Empty(t, s.Events())
	_, ok := s.Record(1)
	assert.False(t, ok)
	assert.Equal(t, 1, n.disconnects)
}

func TestConnectStartsFromCleanSlate(t *testing.T) {
	s, n := newTestSession(SessionOptions{})
	joinPlayers(t, s, 2)

	s.Connect()

	assert.Empty(t, s.IDs())
	assert.Empty(t, s.Events())
	assert.Equal(t, 1, n.connects)
}

func TestCountdownGatesGameStart(t *testing.T) {
	s, n := newTestSession(SessionOptions{Countdown: 5 * time.Second})
	joinPlayers(t, s, 2)

	require.NoError(t, s.StartGame())
	assert.True(t, s.CountdownActive())
	assert.Equal(t, PhaseWaiting, s.Phase())

	// Starting again while counting down is a no-op.
	require.NoError(t, s.StartGame())

	require.NoError(t, s.CancelStart())
	assert.False(t, s.CountdownActive())
	assert.Equal(t, PhaseWaiting, s.Phase())

	// An elapsed timer from a cancelled countdown must not start the game.
	s.CountdownElapsed()
	assert.Equal(t, PhaseWaiting, s.Phase())

	require.NoError(t, s.StartGame())
	s.CountdownElapsed()
	assert.Equal(t, PhasePreparing, s.Phase())
	assert.False(t, s.CountdownActive())

	assert.Equal(t, []bool{true, false, true, false}, n.countdowns)
}

func TestJoinCancelsCountdown(t *testing.T) {
	s, _ := newTestSession(SessionOptions{Countdown: 5 * time.Second})
	joinPlayers(t, s, 2)
	require.NoError(t, s.StartGame())
	require.True(t, s.CountdownActive())

	require.NoError(t, s.Join(3, "carol"))
	assert.False(t, s.CountdownActive())
}

func TestCancelStartWithoutCountdownRejected(t *testing.T) {
	s, _ := newTestSession(SessionOptions{Countdown: 5 * time.Second})
	joinPlayers(t, s, 2)

	assert.ErrorIs(t, s.CancelStart(), ErrIllegalPhase)
}

func TestSkipTurnAdvancesWithoutVote(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	require.NoError(t, s.SkipTurn(1))

	rec, _ := s.Record(1)
	assert.Equal(t, 1, rec.Skips)
	assert.Empty(t, rec.GuessHistory)

	assert.Equal(t, PhaseGuessing, s.Phase())
	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestForfeitRevealsQuestionAndAdvances(t *testing.T) {
	s, n := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	require.NoError(t, s.Forfeit(1))

	rec, _ := s.Record(1)
	assert.True(t, rec.Forfeited)

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)

	assert.Contains(t, n.events, `alice gave up; the question was "elephant"`)
}

func TestTurnWrapsAroundOrder(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	require.NoError(t, s.SkipTurn(1))
	require.NoError(t, s.SkipTurn(2))
	require.NoError(t, s.SkipTurn(3))

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(1), active)
}

func TestLeaveUnknownIsIdempotent(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	joinPlayers(t, s, 2)

	before := len(s.Events())
	s.Leave(42)
	s.Leave(42)

	assert.Len(t, s.Events(), before)
	assert.Equal(t, []uint16{1, 2}, s.IDs())
}

func TestLeaveActiveGuesserForfeitsTurn(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)

	s.Leave(1)

	assert.Equal(t, []uint16{2, 3}, s.TurnOrder())
	assert.Equal(t, PhaseGuessing, s.Phase())

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestLeaveDuringVotingAbandonsVote(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 4)
	require.NoError(t, s.SubmitGuess(1, "guess"))
	require.NoError(t, s.CastVote(2, true))

	s.Leave(1)

	assert.Equal(t, PhaseGuessing, s.Phase())
	assert.Empty(t, s.PendingAnswer())
	assert.Empty(t, s.Ballots())

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestLeaveEarlierInOrderAdjustsIndex(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 3)
	require.NoError(t, s.SkipTurn(1)) // active guesser is now id 2

	s.Leave(1)

	assert.Equal(t, []uint16{2, 3}, s.TurnOrder())
	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestLeaveLastOutstandingVoterTriggersTally(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 4)
	require.NoError(t, s.SubmitGuess(1, "guess"))
	require.NoError(t, s.CastVote(2, true))
	require.NoError(t, s.CastVote(3, true))

	// Id 4 never votes; their departure completes the quorum.
	s.Leave(4)

	rec, _ := s.Record(1)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, PhaseGuessing, s.Phase())

	active, ok := s.ActiveGuesser()
	require.True(t, ok)
	assert.Equal(t, uint16(2), active)
}

func TestLeaveDiscardsDepartedBallot(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 4)
	require.NoError(t, s.SubmitGuess(1, "guess"))
	require.NoError(t, s.CastVote(2, true))

	s.Leave(2)

	assert.Equal(t, PhaseVoting, s.Phase())
	assert.Empty(t, s.Ballots())
}

func TestLeaveBelowMinimumResetsGame(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	startGuessing(t, s, 2)

	s.Leave(2)

	assert.Equal(t, PhaseWaiting, s.Phase())
	assert.Empty(t, s.TurnOrder())
	assert.Equal(t, []uint16{1}, s.IDs())
}

func TestLeaveDuringPreparingCompletesReadiness(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	joinPlayers(t, s, 3)
	require.NoError(t, s.StartGame())
	require.NoError(t, s.SubmitQuestion(1, "elephant"))
	require.NoError(t, s.SubmitQuestion(2, "violin"))
	require.Equal(t, PhasePreparing, s.Phase())

	// The only participant without a question departs.
	s.Leave(3)

	assert.Equal(t, PhaseGuessing, s.Phase())
	assert.Equal(t, []uint16{1, 2}, s.TurnOrder())
}

func TestChatValidatesSender(t *testing.T) {
	s, _ := newTestSession(SessionOptions{})
	joinPlayers(t, s, 2)

	name, err := s.Chat(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = s.Chat(42)
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestEventLogBoundedThroughSession(t *testing.T) {
	s, _ := newTestSession(SessionOptions{LogCapacity: 5})
	joinPlayers(t, s, 5)

	events := s.Events()
	assert.Len(t, events, 5)

	require.NoError(t, s.StartGame())
	assert.Len(t, s.Events(), 5)
}
