package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
)

const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

var ErrUnknownGameStatus = fmt.Errorf("unknown game status")

// GameState is the authoritative record for a single game.
// The board payload is opaque to the relay; its semantics belong to the game template.
type GameState struct {
	GameID      string          `json:"gameId"`
	Players     []*Player       `json:"players,omitempty"`
	Board       json.RawMessage `json:"board,omitempty"`
	CurrentTurn string          `json:"currentTurn,omitempty"`
	Status      string          `json:"status"`
	LastUpdate  int64           `json:"lastUpdate"`
}

// NewGameState - creates a state record for a game that just saw its first action.
func NewGameState(gameID string) *GameState {
	return &GameState{
		GameID:     gameID,
		Status:     StatusActive,
		LastUpdate: time.Now().UnixMilli(),
	}
}

// Touch - bumps LastUpdate to the given moment.
func (that *GameState) Touch(now time.Time) {
	that.LastUpdate = now.UnixMilli()
}

// JoinPlayer - adds a player to the roster or marks an existing one online.
func (that *GameState) JoinPlayer(player *Player) {
	for _, existing := range that.Players {
		if existing.ID == player.ID {
			existing.Online = true
			if player.Name != "" {
				existing.Name = player.Name
			}
			return
		}
	}

	player.Online = true
	that.Players = append(that.Players, player)
}

// LeavePlayer - marks a player offline; the roster entry stays.
func (that *GameState) LeavePlayer(playerID string) {
	for _, existing := range that.Players {
		if existing.ID == playerID {
			existing.Online = false
			return
		}
	}
}

// Finish - moves the game to its terminal status.
func (that *GameState) Finish() {
	that.Status = StatusFinished
	that.CurrentTurn = ""
}

func (that *GameState) IsFinished() bool {
	return that.Status == StatusFinished
}

func (that *GameState) IsActive() bool {
	return that.Status == StatusActive
}

func (that *GameState) IsWaiting() bool {
	return that.Status == StatusWaiting
}

// ConfirmKnownStatus - guards against snapshots with a status the relay does not recognize.
func (that *GameState) ConfirmKnownStatus() error {
	switch that.Status {
	case StatusWaiting, StatusActive, StatusFinished:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownGameStatus, that.Status)
	}
}

// ConfirmNotFinished - returns ErrGameFinished once the terminal status is reached.
func (that *GameState) ConfirmNotFinished() error {
	if that.IsFinished() {
		return apperror.ErrGameFinished
	}

	return nil
}

// Clone - returns a deep copy so subscribers never share the authoritative record.
func (that *GameState) Clone() *GameState {
	clone := &GameState{
		GameID:      that.GameID,
		CurrentTurn: that.CurrentTurn,
		Status:      that.Status,
		LastUpdate:  that.LastUpdate,
	}

	if that.Board != nil {
		clone.Board = append(json.RawMessage(nil), that.Board...)
	}

	for _, player := range that.Players {
		copied := *player
		clone.Players = append(clone.Players, &copied)
	}

	return clone
}
