package client

import (
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
)

// State of the managed connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// listeners holds one callback per observable event. Registration is typed
// per message kind, so the embedding application never dispatches on raw
// type strings.
type listeners struct {
	onStateChange  func(state State)
	onGameState    func(gameID string, state *entity.GameState)
	onPlayerJoin   func(action *protocol.PlayerAction)
	onPlayerLeave  func(action *protocol.PlayerAction)
	onPlayerAction func(action *protocol.PlayerAction)
	onGameEnd      func(action *protocol.PlayerAction)
}

// OnStateChange - observes every connection-state transition, including the
// terminal disconnected state after reconnect attempts are exhausted.
func (that *Client) OnStateChange(fn func(state State)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onStateChange = fn
}

// OnGameState - observes every snapshot received; the local cache has
// already been overwritten when the callback runs.
func (that *Client) OnGameState(fn func(gameID string, state *entity.GameState)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onGameState = fn
}

func (that *Client) OnPlayerJoin(fn func(action *protocol.PlayerAction)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onPlayerJoin = fn
}

func (that *Client) OnPlayerLeave(fn func(action *protocol.PlayerAction)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onPlayerLeave = fn
}

func (that *Client) OnPlayerAction(fn func(action *protocol.PlayerAction)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onPlayerAction = fn
}

func (that *Client) OnGameEnd(fn func(action *protocol.PlayerAction)) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.listeners.onGameEnd = fn
}
