package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBufferSize = 256
)

// connection wraps one WebSocket peer. Outbound updates go through a
// buffered channel drained by writePump, so a slow peer never blocks a
// fan-out in the relay.
type connection struct {
	id     string
	socket *websocket.Conn
	send   chan *protocol.GameUpdate

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id string, socket *websocket.Conn) *connection {
	return &connection{
		id:     id,
		socket: socket,
		send:   make(chan *protocol.GameUpdate, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (that *connection) ID() string {
	return that.id
}

// Send - enqueues an update for the peer. It fails instead of blocking when
// the connection is closing or its buffer is full; the relay treats either
// as an isolated, best-effort miss.
func (that *connection) Send(update *protocol.GameUpdate) error {
	select {
	case <-that.done:
		return apperror.ErrConnectionClosed
	default:
	}

	select {
	case that.send <- update:
		return nil
	case <-that.done:
		return apperror.ErrConnectionClosed
	default:
		return apperror.ErrSendBufferFull
	}
}

func (that *connection) close() {
	that.closeOnce.Do(func() {
		close(that.done)
		_ = that.socket.Close()
	})
}

// writePump - drains the send channel onto the socket and keeps the
// connection alive with pings.
func (that *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		that.close()
	}()

	for {
		select {
		case update := <-that.send:
			_ = that.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := that.socket.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = that.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := that.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-that.done:
			_ = that.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
