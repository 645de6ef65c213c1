package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
	"github.com/rocketscienceinc/gamestate-relay/internal/relay"
	"github.com/rocketscienceinc/gamestate-relay/internal/repository"
	wstransport "github.com/rocketscienceinc/gamestate-relay/transport/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor  = 3 * time.Second
	interval = 25 * time.Millisecond
)

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gameRelay := relay.New(logger, repository.NewInMemoryGameStateRepository())
	wsServer := wstransport.New(logger, gameRelay)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsServer.ServeWS(context.Background(), w, r)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestClient(t *testing.T, url string, mock clock.Clock) *Client {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := New(logger, Options{URL: url, Clock: mock})
	t.Cleanup(manager.Close)

	return manager
}

// rawPeer is a second, bare connection used to feed actions into the relay.
func rawPeer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})

	go func() {
		// drain broadcasts so the server-side buffer never fills
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	return conn
}

func (that *Client) reconnectAttempts() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.attempts
}

func TestClient_FailsFastWhenNotConnected(t *testing.T) {
	// Given: a manager that never connected
	manager := newTestClient(t, "ws://127.0.0.1:1/ws", nil)

	// When/Then: every network call fails with ErrNotConnected
	assert.ErrorIs(t, manager.Subscribe("42"), apperror.ErrNotConnected)
	assert.ErrorIs(t, manager.Unsubscribe("42"), apperror.ErrNotConnected)
	assert.ErrorIs(t, manager.SendAction(&protocol.PlayerAction{Type: "MOVE", GameID: "42"}), apperror.ErrNotConnected)

	// Then: the cache stays a pure local read
	_, ok := manager.State("42")
	assert.False(t, ok)
}

func TestClient_ConnectFailureIsReturned(t *testing.T) {
	// Given: nothing listening on the target address
	manager := newTestClient(t, "ws://127.0.0.1:1/ws", nil)

	// When: connecting
	err := manager.Connect(context.Background())

	// Then: the error surfaces and no retry loop starts
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, manager.CurrentState())
	assert.Zero(t, manager.reconnectAttempts())
}

func TestClient_ConnectTwiceIsRejected(t *testing.T) {
	// Given: a connected manager
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", nil)
	require.NoError(t, manager.Connect(context.Background()))

	// When: connecting again
	err := manager.Connect(context.Background())

	// Then: the second call is refused
	assert.ErrorIs(t, err, apperror.ErrAlreadyConnected)
}

func TestClient_ReceivesUpdatesAndCachesSnapshots(t *testing.T) {
	// Given: a connected, subscribed manager with listeners registered
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", nil)

	var mu sync.Mutex
	var actions []*protocol.PlayerAction
	var snapshots []*entity.GameState
	manager.OnPlayerJoin(func(action *protocol.PlayerAction) {
		mu.Lock()
		defer mu.Unlock()
		actions = append(actions, action)
	})
	manager.OnGameState(func(_ string, state *entity.GameState) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, state)
	})

	require.NoError(t, manager.Connect(context.Background()))
	require.NoError(t, manager.Subscribe("42"))
	time.Sleep(100 * time.Millisecond)

	// When: another peer joins the game
	peer := rawPeer(t, server)
	require.NoError(t, peer.WriteJSON(protocol.ClientMessage{Type: protocol.ActionJoin, PlayerID: "P1", GameID: "42"}))

	// Then: the manager caches the snapshot and fires both listeners
	require.Eventually(t, func() bool {
		_, ok := manager.State("42")
		return ok
	}, waitFor, interval)

	state, ok := manager.State("42")
	require.True(t, ok)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "P1", state.Players[0].ID)
	assert.NotZero(t, state.LastUpdate)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, actions, 1)
	assert.Equal(t, protocol.ActionJoin, actions[0].Type)
	require.NotEmpty(t, snapshots)
}

func TestClient_SendActionReachesOtherSubscribers(t *testing.T) {
	// Given: two managers on the same game
	server := newRelayServer(t)
	sender := newTestClient(t, wsURL(server)+"/ws", nil)
	observer := newTestClient(t, wsURL(server)+"/ws", nil)

	require.NoError(t, sender.Connect(context.Background()))
	require.NoError(t, observer.Connect(context.Background()))
	require.NoError(t, sender.Subscribe("42"))
	require.NoError(t, observer.Subscribe("42"))
	time.Sleep(100 * time.Millisecond)

	// When: the sender submits a MOVE
	require.NoError(t, sender.SendAction(&protocol.PlayerAction{
		Type:     "MOVE",
		PlayerID: "P1",
		GameID:   "42",
		Data:     json.RawMessage(`{"row":1,"col":2}`),
	}))

	// Then: both caches converge on the refreshed snapshot
	for _, manager := range []*Client{sender, observer} {
		require.Eventually(t, func() bool {
			state, ok := manager.State("42")
			return ok && state.LastUpdate > 0
		}, waitFor, interval)
	}
}

func TestClient_ReconnectSchedule(t *testing.T) {
	// Given: a connected manager on a virtual clock
	mock := clock.NewMock()
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", mock)

	var mu sync.Mutex
	var transitions []State
	manager.OnStateChange(func(state State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, state)
	})

	require.NoError(t, manager.Connect(context.Background()))

	// When: the server goes away for good
	server.CloseClientConnections()
	server.Close()

	// Then: the first attempt is scheduled one base delay out
	require.Eventually(t, func() bool {
		return manager.CurrentState() == StateReconnecting && manager.reconnectAttempts() == 1
	}, waitFor, interval)

	// Then: just before the delay elapses nothing has fired
	mock.Add(999 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, manager.reconnectAttempts())

	// Then: attempt 1 fires at 1s, fails, and attempt 2 waits 2s
	mock.Add(1 * time.Millisecond)
	require.Eventually(t, func() bool {
		return manager.reconnectAttempts() == 2
	}, waitFor, interval)

	// Then: attempt 2 fires at +2s, fails, and attempt 3 waits 3s
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		return manager.reconnectAttempts() == 3
	}, waitFor, interval)

	// Then: attempt 3 fires at +3s, fails, and the manager gives up
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool {
		return manager.CurrentState() == StateDisconnected
	}, waitFor, interval)

	// Then: no further attempts happen, however long we wait
	mock.Add(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, manager.CurrentState())

	// callbacks run on their own goroutines, so only membership is asserted
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, StateConnected)
	assert.Contains(t, transitions, StateReconnecting)
	assert.Contains(t, transitions, StateDisconnected)
}

func TestClient_ReconnectResubscribesAndResyncs(t *testing.T) {
	// Given: a subscribed manager whose connection is dropped server-side
	mock := clock.NewMock()
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", mock)

	require.NoError(t, manager.Connect(context.Background()))
	require.NoError(t, manager.Subscribe("42"))
	time.Sleep(100 * time.Millisecond)

	peer := rawPeer(t, server)
	require.NoError(t, peer.WriteJSON(protocol.ClientMessage{Type: protocol.ActionJoin, PlayerID: "P1", GameID: "42"}))
	require.Eventually(t, func() bool {
		_, ok := manager.State("42")
		return ok
	}, waitFor, interval)

	// When: every live connection is severed while the server keeps running
	server.CloseClientConnections()

	// Then: the cache is discarded the moment the connection is lost
	require.Eventually(t, func() bool {
		_, ok := manager.State("42")
		return !ok && manager.CurrentState() == StateReconnecting
	}, waitFor, interval)

	// When: the first reconnect attempt fires
	mock.Add(1 * time.Second)

	// Then: the manager reconnects and replays its subscription
	require.Eventually(t, func() bool {
		return manager.CurrentState() == StateConnected
	}, waitFor, interval)

	// Then: fresh broadcasts repopulate the cache without a new Subscribe call
	fresh := rawPeer(t, server)
	require.Eventually(t, func() bool {
		_ = fresh.WriteJSON(protocol.ClientMessage{Type: "MOVE", PlayerID: "P1", GameID: "42"})
		_, ok := manager.State("42")
		return ok
	}, waitFor, interval)

	assert.Zero(t, manager.reconnectAttempts())
}

func TestClient_CloseDiscardsCache(t *testing.T) {
	// Given: a manager with a cached snapshot for game 42
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", nil)

	require.NoError(t, manager.Connect(context.Background()))
	require.NoError(t, manager.Subscribe("42"))
	time.Sleep(100 * time.Millisecond)

	peer := rawPeer(t, server)
	require.NoError(t, peer.WriteJSON(protocol.ClientMessage{Type: protocol.ActionJoin, PlayerID: "P1", GameID: "42"}))
	require.Eventually(t, func() bool {
		_, ok := manager.State("42")
		return ok
	}, waitFor, interval)

	// When: the manager is closed explicitly
	manager.Close()

	// Then: the cache is gone along with the connection
	assert.Equal(t, StateDisconnected, manager.CurrentState())
	_, ok := manager.State("42")
	assert.False(t, ok)
}

func TestClient_AdoptAfterCloseDropsTheSocket(t *testing.T) {
	// Given: a closed manager and a dial that completed after the Close
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", nil)
	manager.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}

	// When: the late socket is handed to the manager
	manager.adoptConnection(conn)

	// Then: the manager stays disconnected and the socket is closed
	assert.Equal(t, StateDisconnected, manager.CurrentState())

	manager.mu.Lock()
	assert.Nil(t, manager.conn)
	manager.mu.Unlock()

	assert.Error(t, conn.WriteMessage(websocket.TextMessage, []byte("{}")))
}

func TestClient_CloseCancelsPendingReconnect(t *testing.T) {
	// Given: a manager waiting on a reconnect attempt
	mock := clock.NewMock()
	server := newRelayServer(t)
	manager := newTestClient(t, wsURL(server)+"/ws", mock)

	require.NoError(t, manager.Connect(context.Background()))
	server.CloseClientConnections()
	server.Close()

	require.Eventually(t, func() bool {
		return manager.CurrentState() == StateReconnecting
	}, waitFor, interval)

	// When: the manager is closed before the timer fires
	manager.Close()
	mock.Add(time.Hour)
	time.Sleep(50 * time.Millisecond)

	// Then: it stays disconnected
	assert.Equal(t, StateDisconnected, manager.CurrentState())
	assert.Equal(t, 1, manager.reconnectAttempts())
}
