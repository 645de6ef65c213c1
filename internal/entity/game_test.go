package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameStateStatusMethods(t *testing.T) {
	t.Run("IsFinished returns true when status is finished", func(t *testing.T) {
		// Given: a game state with StatusFinished
		state := &GameState{Status: StatusFinished}

		// When: checking if the game is finished
		isFinished := state.IsFinished()

		// Then: it should return true
		assert.True(t, isFinished)
	})

	t.Run("IsActive returns true when status is active", func(t *testing.T) {
		// Given: a game state with StatusActive
		state := &GameState{Status: StatusActive}

		// When: checking if the game is active
		isActive := state.IsActive()

		// Then: it should return true
		assert.True(t, isActive)
	})

	t.Run("IsWaiting returns true when status is waiting", func(t *testing.T) {
		// Given: a game state with StatusWaiting
		state := &GameState{Status: StatusWaiting}

		// When: checking if the game is waiting
		isWaiting := state.IsWaiting()

		// Then: it should return true
		assert.True(t, isWaiting)
	})
}

func TestNewGameState(t *testing.T) {
	// Given: a fresh game id
	// When: a state is created for the first action
	state := NewGameState("42")

	// Then: the game starts active with a recent LastUpdate
	assert.Equal(t, "42", state.GameID)
	assert.Equal(t, StatusActive, state.Status)
	assert.NotZero(t, state.LastUpdate)
}

func TestGameState_JoinPlayer(t *testing.T) {
	t.Run("adds a new player online", func(t *testing.T) {
		// Given: an empty roster
		state := NewGameState("1")

		// When: a player joins
		state.JoinPlayer(&Player{ID: "P1", Name: "alice"})

		// Then: the roster holds one online player
		require.Len(t, state.Players, 1)
		assert.True(t, state.Players[0].Online)
		assert.Equal(t, "alice", state.Players[0].Name)
	})

	t.Run("joining twice keeps a single roster entry", func(t *testing.T) {
		// Given: a roster with P1
		state := NewGameState("1")
		state.JoinPlayer(&Player{ID: "P1"})

		// When: the same player joins again
		state.JoinPlayer(&Player{ID: "P1", Name: "alice"})

		// Then: there is still exactly one entry, refreshed in place
		require.Len(t, state.Players, 1)
		assert.Equal(t, "alice", state.Players[0].Name)
	})

	t.Run("rejoin marks an offline player online again", func(t *testing.T) {
		// Given: a player that left
		state := NewGameState("1")
		state.JoinPlayer(&Player{ID: "P1"})
		state.LeavePlayer("P1")
		require.False(t, state.Players[0].Online)

		// When: the player joins again
		state.JoinPlayer(&Player{ID: "P1"})

		// Then: the same entry is online
		require.Len(t, state.Players, 1)
		assert.True(t, state.Players[0].Online)
	})
}

func TestGameState_LeavePlayer(t *testing.T) {
	t.Run("marks the player offline but keeps the roster entry", func(t *testing.T) {
		// Given: a roster with P1 and P2
		state := NewGameState("1")
		state.JoinPlayer(&Player{ID: "P1"})
		state.JoinPlayer(&Player{ID: "P2"})

		// When: P1 leaves
		state.LeavePlayer("P1")

		// Then: both entries remain, P1 offline, P2 online
		require.Len(t, state.Players, 2)
		assert.False(t, state.Players[0].Online)
		assert.True(t, state.Players[1].Online)
	})

	t.Run("leaving with an unknown id is a no-op", func(t *testing.T) {
		// Given: an empty roster
		state := NewGameState("1")

		// When: an unknown player leaves
		state.LeavePlayer("ghost")

		// Then: nothing changed
		assert.Empty(t, state.Players)
	})
}

func TestGameState_Finish(t *testing.T) {
	// Given: an active game with a turn in flight
	state := NewGameState("1")
	state.CurrentTurn = "P1"

	// When: the game finishes
	state.Finish()

	// Then: the status is terminal and the turn is cleared
	assert.Equal(t, StatusFinished, state.Status)
	assert.Empty(t, state.CurrentTurn)
	assert.ErrorIs(t, state.ConfirmNotFinished(), apperror.ErrGameFinished)
}

func TestGameState_ConfirmKnownStatus(t *testing.T) {
	t.Run("accepts the three known statuses", func(t *testing.T) {
		for _, status := range []string{StatusWaiting, StatusActive, StatusFinished} {
			state := &GameState{Status: status}
			assert.NoError(t, state.ConfirmKnownStatus())
		}
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		// Given: a snapshot with a status the relay does not know
		state := &GameState{Status: "paused"}

		// When: confirming the status
		err := state.ConfirmKnownStatus()

		// Then: it should return an error
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown game status")
	})
}

func TestGameState_Touch(t *testing.T) {
	// Given: a state with an old LastUpdate
	state := &GameState{GameID: "1", LastUpdate: 1}
	now := time.Now()

	// When: the state is touched
	state.Touch(now)

	// Then: LastUpdate matches the given moment
	assert.Equal(t, now.UnixMilli(), state.LastUpdate)
}

func TestGameState_Clone(t *testing.T) {
	// Given: a populated state
	state := NewGameState("1")
	state.JoinPlayer(&Player{ID: "P1", Score: 10})
	state.Board = json.RawMessage(`{"cells":[1,2,3]}`)
	state.CurrentTurn = "P1"

	// When: the state is cloned and the clone mutated
	clone := state.Clone()
	clone.Players[0].Score = 99
	clone.Board[2] = 'x'
	clone.Status = StatusFinished

	// Then: the original is untouched
	assert.Equal(t, 10, state.Players[0].Score)
	assert.Equal(t, json.RawMessage(`{"cells":[1,2,3]}`), state.Board)
	assert.Equal(t, StatusActive, state.Status)
}
