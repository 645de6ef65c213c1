// Package client is the embeddable state manager for the relay. It keeps one
// WebSocket connection to the server, mirrors received snapshots in a local
// read-only cache, and reconnects on its own with a linear backoff schedule.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
)

const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 3

	dialTimeout = 10 * time.Second
)

type Options struct {
	// URL of the relay WebSocket endpoint, ws:// or wss://.
	URL string

	// ReconnectDelay is the base delay; attempt n waits ReconnectDelay * n.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds automatic retries after a drop. Once
	// exhausted the manager goes disconnected and stays there until Connect
	// is called again.
	MaxReconnectAttempts int

	// Clock is swappable so tests advance the reconnect schedule virtually.
	Clock clock.Clock

	Dialer *websocket.Dialer
}

type Client struct {
	logger *slog.Logger
	url    string
	dialer *websocket.Dialer
	clock  clock.Clock
	delay  time.Duration
	maxTry int

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	closed        bool
	attempts      int
	subscriptions map[string]struct{}
	cache         map[string]*entity.GameState
	retryTimer    *clock.Timer
	listeners     listeners

	writeMu sync.Mutex
}

func New(logger *slog.Logger, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}

	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}

	return &Client{
		logger: logger,
		url:    opts.URL,
		dialer: opts.Dialer,
		clock:  opts.Clock,
		delay:  opts.ReconnectDelay,
		maxTry: opts.MaxReconnectAttempts,

		state:         StateDisconnected,
		subscriptions: make(map[string]struct{}),
		cache:         make(map[string]*entity.GameState),
	}
}

// Connect - opens the connection and returns once the handshake completes.
// A failure before the first successful open is returned to the caller and
// does not trigger automatic retries.
func (that *Client) Connect(ctx context.Context) error {
	that.mu.Lock()
	if that.state == StateConnected || that.state == StateConnecting {
		that.mu.Unlock()
		return apperror.ErrAlreadyConnected
	}

	that.closed = false
	that.setStateLocked(StateConnecting)
	that.mu.Unlock()

	conn, resp, err := that.dialer.DialContext(ctx, that.url, nil)
	if err != nil {
		that.mu.Lock()
		that.setStateLocked(StateDisconnected)
		that.mu.Unlock()

		return fmt.Errorf("failed to dial %s: %w", that.url, err)
	}

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	that.adoptConnection(conn)

	return nil
}

// Close - drops the connection and cancels any pending reconnect. The
// manager ends in the disconnected state.
func (that *Client) Close() {
	that.mu.Lock()
	that.closed = true

	if that.retryTimer != nil {
		that.retryTimer.Stop()
		that.retryTimer = nil
	}

	conn := that.conn
	that.conn = nil
	that.cache = make(map[string]*entity.GameState)
	that.setStateLocked(StateDisconnected)
	that.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// CurrentState - reports the connection state.
func (that *Client) CurrentState() State {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.state
}

// Subscribe - registers interest in a game's updates. Requires a live
// connection; it never queues silently.
func (that *Client) Subscribe(gameID string) error {
	that.mu.Lock()
	if that.state != StateConnected || that.conn == nil {
		that.mu.Unlock()
		return apperror.ErrNotConnected
	}

	conn := that.conn
	that.subscriptions[gameID] = struct{}{}
	that.mu.Unlock()

	message := &protocol.ClientMessage{
		Type:      protocol.TypeSubscribe,
		GameID:    gameID,
		Timestamp: that.clock.Now().UnixMilli(),
	}

	if err := that.write(conn, message); err != nil {
		return fmt.Errorf("failed to send subscribe: %w", err)
	}

	return nil
}

// Unsubscribe - stops updates for a game. No error if never subscribed.
func (that *Client) Unsubscribe(gameID string) error {
	that.mu.Lock()
	delete(that.subscriptions, gameID)

	if that.state != StateConnected || that.conn == nil {
		that.mu.Unlock()
		return apperror.ErrNotConnected
	}

	conn := that.conn
	that.mu.Unlock()

	message := &protocol.ClientMessage{
		Type:      protocol.TypeUnsubscribe,
		GameID:    gameID,
		Timestamp: that.clock.Now().UnixMilli(),
	}

	if err := that.write(conn, message); err != nil {
		return fmt.Errorf("failed to send unsubscribe: %w", err)
	}

	return nil
}

// SendAction - stamps the client timestamp and forwards the action verbatim.
// Fails fast when not connected; nothing is written in that case.
func (that *Client) SendAction(action *protocol.PlayerAction) error {
	that.mu.Lock()
	if that.state != StateConnected || that.conn == nil {
		that.mu.Unlock()
		return apperror.ErrNotConnected
	}

	conn := that.conn
	that.mu.Unlock()

	message := &protocol.ClientMessage{
		Type:      action.Type,
		PlayerID:  action.PlayerID,
		GameID:    action.GameID,
		Data:      action.Data,
		Timestamp: that.clock.Now().UnixMilli(),
	}

	if err := that.write(conn, message); err != nil {
		return fmt.Errorf("failed to send action: %w", err)
	}

	return nil
}

// State - pure local read of the last snapshot received for the game.
// Never touches the network.
func (that *Client) State(gameID string) (*entity.GameState, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	state, ok := that.cache[gameID]
	if !ok {
		return nil, false
	}

	return state.Clone(), true
}

func (that *Client) write(conn *websocket.Conn, message *protocol.ClientMessage) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if err := conn.WriteJSON(message); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	return nil
}

// adoptConnection - installs a freshly-opened socket, resets the attempt
// counter and replays subscriptions so server-side state is resynced after
// a reconnect gap. A Close that raced the dial wins: the socket is dropped
// instead of resurrecting the manager.
func (that *Client) adoptConnection(conn *websocket.Conn) {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		_ = conn.Close()
		return
	}

	that.conn = conn
	that.attempts = 0
	that.setStateLocked(StateConnected)

	resubscribe := make([]string, 0, len(that.subscriptions))
	for gameID := range that.subscriptions {
		resubscribe = append(resubscribe, gameID)
	}
	that.mu.Unlock()

	for _, gameID := range resubscribe {
		message := &protocol.ClientMessage{
			Type:      protocol.TypeSubscribe,
			GameID:    gameID,
			Timestamp: that.clock.Now().UnixMilli(),
		}

		if err := that.write(conn, message); err != nil {
			that.logger.Error("failed to resubscribe", "method", "adoptConnection", "gameID", gameID, "error", err)
		}
	}

	go that.readLoop(conn)
}

func (that *Client) readLoop(conn *websocket.Conn) {
	log := that.logger.With("method", "readLoop")

	for {
		var update protocol.GameUpdate
		if err := conn.ReadJSON(&update); err != nil {
			log.Info("connection lost", "error", err)
			break
		}

		that.dispatch(&update)
	}

	that.handleConnectionLoss(conn)
}

// dispatch - routes one inbound update. Unknown types are ignored so newer
// servers stay compatible with older clients.
func (that *Client) dispatch(update *protocol.GameUpdate) {
	log := that.logger.With("method", "dispatch", "type", update.Type, "gameID", update.GameID)

	switch update.Type {
	case protocol.UpdateGameState:
		state, err := protocol.DecodeState(update)
		if err != nil {
			log.Error("failed to decode snapshot", "error", err)
			return
		}

		that.mu.Lock()
		that.cache[update.GameID] = state
		fn := that.listeners.onGameState
		that.mu.Unlock()

		if fn != nil {
			fn(update.GameID, state)
		}
	case protocol.UpdatePlayerAction:
		that.emitAction(update, func(l *listeners) func(*protocol.PlayerAction) { return l.onPlayerAction })
	case protocol.UpdatePlayerJoin:
		that.emitAction(update, func(l *listeners) func(*protocol.PlayerAction) { return l.onPlayerJoin })
	case protocol.UpdatePlayerLeave:
		that.emitAction(update, func(l *listeners) func(*protocol.PlayerAction) { return l.onPlayerLeave })
	case protocol.UpdateGameEnd:
		that.emitAction(update, func(l *listeners) func(*protocol.PlayerAction) { return l.onGameEnd })
	default:
		// unknown update types are skipped on purpose
	}
}

func (that *Client) emitAction(update *protocol.GameUpdate, pick func(*listeners) func(*protocol.PlayerAction)) {
	action, err := protocol.DecodeAction(update)
	if err != nil {
		that.logger.Error("failed to decode action", "method", "emitAction", "type", update.Type, "error", err)
		return
	}

	that.mu.Lock()
	fn := pick(&that.listeners)
	that.mu.Unlock()

	if fn != nil {
		fn(action)
	}
}

// handleConnectionLoss - discards the cache, then either schedules the next
// reconnect attempt or goes terminally disconnected.
func (that *Client) handleConnectionLoss(conn *websocket.Conn) {
	_ = conn.Close()

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.conn != conn {
		return
	}
	that.conn = nil

	// the mirror is not trusted to survive a reconnect gap
	that.cache = make(map[string]*entity.GameState)

	if that.closed {
		return
	}

	that.scheduleReconnectLocked()
}

func (that *Client) scheduleReconnectLocked() {
	if that.attempts >= that.maxTry {
		that.logger.Error("giving up on reconnect", "method", "scheduleReconnect", "attempts", that.attempts, "error", apperror.ErrAttemptsExhausted)
		that.setStateLocked(StateDisconnected)
		return
	}

	that.attempts++
	delay := that.delay * time.Duration(that.attempts)
	that.setStateLocked(StateReconnecting)

	that.logger.Info("scheduling reconnect", "method", "scheduleReconnect", "attempt", that.attempts, "delay", delay)

	that.retryTimer = that.clock.AfterFunc(delay, that.tryReconnect)
}

func (that *Client) tryReconnect() {
	that.mu.Lock()
	if that.closed || that.state != StateReconnecting {
		that.mu.Unlock()
		return
	}
	that.setStateLocked(StateConnecting)
	that.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, resp, err := that.dialer.DialContext(ctx, that.url, nil)
	if err != nil {
		that.logger.Error("reconnect attempt failed", "method", "tryReconnect", "error", err)

		that.mu.Lock()
		if !that.closed {
			that.scheduleReconnectLocked()
		}
		that.mu.Unlock()
		return
	}

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	that.adoptConnection(conn)
}

// setStateLocked - records the transition and notifies the observer.
// Caller holds the mutex; the callback runs outside of it.
func (that *Client) setStateLocked(state State) {
	if that.state == state {
		return
	}

	that.state = state
	fn := that.listeners.onStateChange

	if fn != nil {
		go fn(state)
	}
}
