package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
)

// Control message types understood by the relay itself. Every other
// inbound type is treated as the kind of a player action, so game
// templates can introduce new kinds without touching the relay.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
)

// Reserved action kinds that drive roster bookkeeping.
const (
	ActionJoin  = "JOIN"
	ActionLeave = "LEAVE"
	ActionEnd   = "END"
)

// Update types pushed to subscribers.
const (
	UpdateGameState    = "GAME_STATE"
	UpdatePlayerAction = "PLAYER_ACTION"
	UpdatePlayerJoin   = "PLAYER_JOIN"
	UpdatePlayerLeave  = "PLAYER_LEAVE"
	UpdateGameEnd      = "GAME_END"
)

var (
	ErrMissingType   = errors.New("message type is required")
	ErrMissingGameID = errors.New("message game id is required")
)

// ClientMessage is the single envelope for everything a client sends.
type ClientMessage struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId,omitempty"`
	GameID    string          `json:"gameId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Validate - rejects structurally incomplete messages before they reach the relay.
func (that *ClientMessage) Validate() error {
	if that.Type == "" {
		return ErrMissingType
	}

	if that.GameID == "" {
		return ErrMissingGameID
	}

	return nil
}

// IsControl - reports whether the message targets the relay rather than a game.
func (that *ClientMessage) IsControl() bool {
	return that.Type == TypeSubscribe || that.Type == TypeUnsubscribe
}

// ToAction - reinterprets a non-control message as a player action.
func (that *ClientMessage) ToAction() *PlayerAction {
	return &PlayerAction{
		Type:      that.Type,
		PlayerID:  that.PlayerID,
		GameID:    that.GameID,
		Data:      that.Data,
		Timestamp: that.Timestamp,
	}
}

// PlayerAction is an inbound game mutation. The client timestamp is
// advisory only; the server never orders by it.
type PlayerAction struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId"`
	GameID    string          `json:"gameId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// GameUpdate is an outbound event. Timestamp is server-assigned.
type GameUpdate struct {
	Type      string          `json:"type"`
	GameID    string          `json:"gameId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewStateUpdate - wraps a full snapshot into a GAME_STATE update.
func NewStateUpdate(state *entity.GameState, now time.Time) (*GameUpdate, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game state: %w", err)
	}

	return &GameUpdate{
		Type:      UpdateGameState,
		GameID:    state.GameID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}, nil
}

// NewActionUpdate - wraps an accepted action into an update of the given type.
func NewActionUpdate(updateType string, action *PlayerAction, now time.Time) (*GameUpdate, error) {
	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal player action: %w", err)
	}

	return &GameUpdate{
		Type:      updateType,
		GameID:    action.GameID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}, nil
}

// DecodeState - unpacks a GAME_STATE update payload.
func DecodeState(update *GameUpdate) (*entity.GameState, error) {
	var state entity.GameState
	if err := json.Unmarshal(update.Data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game state: %w", err)
	}

	return &state, nil
}

// DecodeAction - unpacks an action-bearing update payload.
func DecodeAction(update *GameUpdate) (*PlayerAction, error) {
	var action PlayerAction
	if err := json.Unmarshal(update.Data, &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player action: %w", err)
	}

	return &action, nil
}
