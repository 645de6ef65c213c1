package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
	"github.com/rocketscienceinc/gamestate-relay/internal/metrics"
	"github.com/rocketscienceinc/gamestate-relay/internal/protocol"
)

// Subscriber is one live connection registered for a game's updates.
// Send must not block indefinitely; a failed send is isolated to the
// subscriber and never aborts the rest of a fan-out.
type Subscriber interface {
	ID() string
	Send(update *protocol.GameUpdate) error
}

type snapshotRepo interface {
	Save(ctx context.Context, state *entity.GameState) error
	GetByID(ctx context.Context, gameID string) (*entity.GameState, error)
	DeleteByID(ctx context.Context, gameID string) error
}

// game carries one gameId's authoritative state and subscriber set.
// Its mutex serializes every message touching the game, which is what
// yields the per-game broadcast ordering guarantee.
type game struct {
	mu          sync.Mutex
	state       *entity.GameState
	subscribers map[string]Subscriber
}

type Relay struct {
	logger *slog.Logger
	repo   snapshotRepo
	now    func() time.Time

	mu    sync.Mutex
	games map[string]*game
}

func New(logger *slog.Logger, repo snapshotRepo) *Relay {
	return &Relay{
		logger: logger,
		repo:   repo,
		now:    time.Now,

		games: make(map[string]*game),
	}
}

// Subscribe - registers the subscriber for the game's updates. Subscribing an
// already-subscribed connection is a no-op. If a snapshot exists it is pushed
// to the new subscriber immediately; if none exists nothing is sent and the
// first action will create the state.
func (that *Relay) Subscribe(ctx context.Context, gameID string, sub Subscriber) error {
	if gameID == "" {
		return apperror.ErrMissingGameID
	}

	log := that.logger.With("method", "Subscribe", "gameID", gameID)

	g := that.getOrCreateGame(gameID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.subscribers[sub.ID()]; ok {
		return nil
	}

	g.subscribers[sub.ID()] = sub
	metrics.ActiveSubscriptions.Inc()

	if g.state == nil {
		g.state = that.restoreSnapshot(ctx, gameID)
	}

	if g.state == nil {
		return nil
	}

	update, err := protocol.NewStateUpdate(g.state.Clone(), that.now())
	if err != nil {
		return fmt.Errorf("failed to build snapshot update: %w", err)
	}

	if err = sub.Send(update); err != nil {
		metrics.DroppedSendsTotal.Inc()
		log.Error("failed to push snapshot to new subscriber", "subscriberID", sub.ID(), "error", err)
	}

	return nil
}

// Unsubscribe - removes the subscriber from the game's set; no error if the
// game or the subscription never existed.
func (that *Relay) Unsubscribe(gameID, subscriberID string) {
	that.mu.Lock()
	g, ok := that.games[gameID]
	that.mu.Unlock()

	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok = g.subscribers[subscriberID]; !ok {
		return
	}

	delete(g.subscribers, subscriberID)
	metrics.ActiveSubscriptions.Dec()
}

// Disconnect - removes the connection from every subscriber set it was part
// of. Game state itself survives, so other subscribers are unaffected and a
// reconnecting client can resync via Subscribe.
func (that *Relay) Disconnect(subscriberID string) {
	that.mu.Lock()
	games := make([]*game, 0, len(that.games))
	for _, g := range that.games {
		games = append(games, g)
	}
	that.mu.Unlock()

	for _, g := range games {
		g.mu.Lock()
		if _, ok := g.subscribers[subscriberID]; ok {
			delete(g.subscribers, subscriberID)
			metrics.ActiveSubscriptions.Dec()
		}
		g.mu.Unlock()
	}
}

// HandleAction - applies an inbound action to the authoritative state and
// broadcasts the action followed by the refreshed snapshot to every
// subscriber of the game, the sender included. Broadcasting to the sender is
// deliberate: it keeps every view consistent with the single broadcast order
// instead of a local optimistic apply.
func (that *Relay) HandleAction(ctx context.Context, action *protocol.PlayerAction) error {
	if action.GameID == "" {
		return apperror.ErrMissingGameID
	}

	log := that.logger.With("method", "HandleAction", "gameID", action.GameID)

	g := that.getOrCreateGame(action.GameID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == nil {
		g.state = that.restoreSnapshot(ctx, action.GameID)
	}

	if g.state == nil {
		g.state = entity.NewGameState(action.GameID)
	}

	if action.Type != protocol.ActionEnd {
		if err := g.state.ConfirmNotFinished(); err != nil {
			return err
		}
	}

	updateType := that.applyBookkeeping(g.state, action)
	g.state.Touch(that.now())

	if err := that.repo.Save(ctx, g.state); err != nil {
		log.Error("failed to persist snapshot", "error", err)
	}

	actionUpdate, err := protocol.NewActionUpdate(updateType, action, that.now())
	if err != nil {
		return fmt.Errorf("failed to build action update: %w", err)
	}

	stateUpdate, err := protocol.NewStateUpdate(g.state.Clone(), that.now())
	if err != nil {
		return fmt.Errorf("failed to build snapshot update: %w", err)
	}

	that.broadcast(g, actionUpdate)
	that.broadcast(g, stateUpdate)

	return nil
}

// Snapshot - returns a copy of the current state for the game, consulting the
// persisted snapshot when the game is not in memory.
func (that *Relay) Snapshot(ctx context.Context, gameID string) (*entity.GameState, error) {
	that.mu.Lock()
	g, ok := that.games[gameID]
	that.mu.Unlock()

	if ok {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.state != nil {
			return g.state.Clone(), nil
		}
	}

	state, err := that.repo.GetByID(ctx, gameID)
	if errors.Is(err, apperror.ErrGameNotFound) {
		return nil, apperror.ErrGameNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return state, nil
}

// SubscriberCount - reports the size of a game's subscriber set.
func (that *Relay) SubscriberCount(gameID string) int {
	that.mu.Lock()
	g, ok := that.games[gameID]
	that.mu.Unlock()

	if !ok {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.subscribers)
}

// applyBookkeeping - mutates the roster for the reserved action kinds and
// picks the outbound update type. The relay never interprets action data
// beyond this.
func (that *Relay) applyBookkeeping(state *entity.GameState, action *protocol.PlayerAction) string {
	switch action.Type {
	case protocol.ActionJoin:
		state.JoinPlayer(&entity.Player{ID: action.PlayerID})
		return protocol.UpdatePlayerJoin
	case protocol.ActionLeave:
		state.LeavePlayer(action.PlayerID)
		return protocol.UpdatePlayerLeave
	case protocol.ActionEnd:
		state.Finish()
		return protocol.UpdateGameEnd
	default:
		return protocol.UpdatePlayerAction
	}
}

// broadcast - fans one update out to every subscriber. Each send is
// best-effort: a failure is logged and counted, never propagated.
func (that *Relay) broadcast(g *game, update *protocol.GameUpdate) {
	log := that.logger.With("method", "broadcast", "gameID", update.GameID, "type", update.Type)

	metrics.BroadcastsTotal.WithLabelValues(update.Type).Inc()

	for id, sub := range g.subscribers {
		if err := sub.Send(update); err != nil {
			metrics.DroppedSendsTotal.Inc()
			log.Error("failed to send update", "subscriberID", id, "error", err)
		}
	}
}

func (that *Relay) getOrCreateGame(gameID string) *game {
	that.mu.Lock()
	defer that.mu.Unlock()

	g, ok := that.games[gameID]
	if !ok {
		g = &game{subscribers: make(map[string]Subscriber)}
		that.games[gameID] = g
	}

	return g
}

// restoreSnapshot - best-effort load of a persisted snapshot, so games stay
// resumable across relay restarts. A snapshot with a status this relay does
// not recognize is discarded as corrupt. Caller holds the game lock.
func (that *Relay) restoreSnapshot(ctx context.Context, gameID string) *entity.GameState {
	log := that.logger.With("method", "restoreSnapshot", "gameID", gameID)

	state, err := that.repo.GetByID(ctx, gameID)
	if errors.Is(err, apperror.ErrGameNotFound) {
		return nil
	}

	if err != nil {
		log.Error("failed to restore snapshot", "error", err)
		return nil
	}

	if err = state.ConfirmKnownStatus(); err != nil {
		log.Error("discarding persisted snapshot", "error", err)
		return nil
	}

	return state
}
