package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/gamestate-relay/internal/metrics"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
	"github.com/rocketscienceinc/gamestate-relay/internal/relay"
)

type gameRelay interface {
	Subscribe(ctx context.Context, gameID string, sub relay.Subscriber) error
	Unsubscribe(gameID, subscriberID string)
	Disconnect(subscriberID string)
	HandleAction(ctx context.Context, action *protocol.PlayerAction) error
}

type Server struct {
	logger   *slog.Logger
	relay    gameRelay
	upgrader websocket.Upgrader

	handlers map[string]func(ctx context.Context, conn *connection, message *protocol.ClientMessage) error
}

func New(logger *slog.Logger, gameRelay gameRelay) *Server {
	server := &Server{
		logger: logger,
		relay:  gameRelay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},

		handlers: make(map[string]func(context.Context, *connection, *protocol.ClientMessage) error),
	}

	server.handlers[protocol.TypeSubscribe] = server.handleSubscribe
	server.handlers[protocol.TypeUnsubscribe] = server.handleUnsubscribe

	return server
}

// Start - starts the WebSocket server and shuts it down when ctx is canceled.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.ServeWS(ctx, w, r)
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// ServeWS - upgrades the request and runs the connection's read loop. A
// connection starts with an empty subscription set; no handshake payload is
// required.
func (that *Server) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "ServeWS")

	socket, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(uuid.NewString(), socket)

	metrics.ActiveConnections.Inc()
	log.Info("WebSocket connection established", "connectionID", conn.ID())

	go conn.writePump()

	defer func() {
		that.relay.Disconnect(conn.ID())
		conn.close()
		metrics.ActiveConnections.Dec()
		log.Info("WebSocket connection closed", "connectionID", conn.ID())
	}()

	that.readLoop(ctx, conn)
}

// readLoop - processes inbound frames. A malformed frame is logged and
// dropped; it never closes the connection or leaks to other subscribers.
func (that *Server) readLoop(ctx context.Context, conn *connection) {
	log := that.logger.With("method", "readLoop", "connectionID", conn.ID())

	conn.socket.SetReadLimit(maxMessageSize)
	_ = conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	conn.socket.SetPongHandler(func(string) error {
		return conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error("error reading message", "error", err)
			}
			return
		}

		var message protocol.ClientMessage
		if err = json.Unmarshal(raw, &message); err != nil {
			metrics.DroppedMessagesTotal.Inc()
			log.Error("failed to unmarshal message", "error", err)
			continue
		}

		if err = message.Validate(); err != nil {
			metrics.DroppedMessagesTotal.Inc()
			log.Error("dropped invalid message", "error", err)
			continue
		}

		handler, ok := that.handlers[message.Type]
		if !ok {
			handler = that.handleAction
		}

		if err = handler(ctx, conn, &message); err != nil {
			log.Error("error processing message", "type", message.Type, "error", err)
		}
	}
}

func (that *Server) handleSubscribe(ctx context.Context, conn *connection, message *protocol.ClientMessage) error {
	if err := that.relay.Subscribe(ctx, message.GameID, conn); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

func (that *Server) handleUnsubscribe(_ context.Context, conn *connection, message *protocol.ClientMessage) error {
	that.relay.Unsubscribe(message.GameID, conn.ID())

	return nil
}

// handleAction - every non-control message is a player action; its type is
// the action kind.
func (that *Server) handleAction(ctx context.Context, conn *connection, message *protocol.ClientMessage) error {
	if err := that.relay.HandleAction(ctx, message.ToAction()); err != nil {
		return fmt.Errorf("failed to handle action: %w", err)
	}

	return nil
}
