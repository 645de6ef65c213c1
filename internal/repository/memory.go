package repository

import (
	"context"
	"sync"

	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
)

// memGameState keeps snapshots in process memory. It backs tests and
// single-node deployments that run without redis.
type memGameState struct {
	mu     sync.RWMutex
	states map[string]*entity.GameState
}

func NewInMemoryGameStateRepository() GameStateRepository {
	return &memGameState{
		states: make(map[string]*entity.GameState),
	}
}

func (that *memGameState) Save(_ context.Context, state *entity.GameState) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.states[state.GameID] = state.Clone()

	return nil
}

func (that *memGameState) GetByID(_ context.Context, gameID string) (*entity.GameState, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	state, ok := that.states[gameID]
	if !ok {
		return nil, apperror.ErrGameNotFound
	}

	return state.Clone(), nil
}

func (that *memGameState) DeleteByID(_ context.Context, gameID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.states, gameID)

	return nil
}
