package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
)

// GameStateRepository persists relay snapshots so live games survive a
// relay restart.
type GameStateRepository interface {
	Save(ctx context.Context, state *entity.GameState) error
	GetByID(ctx context.Context, gameID string) (*entity.GameState, error)
	DeleteByID(ctx context.Context, gameID string) error
}

type dbGameState struct {
	client *redis.Client
}

func NewGameStateRepository(client *redis.Client) GameStateRepository {
	return &dbGameState{
		client: client,
	}
}

func (that *dbGameState) Save(ctx context.Context, state *entity.GameState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal game state: %w", err)
	}

	stateKey := "game:" + state.GameID
	if err = that.client.Set(ctx, stateKey, stateJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set game state: %w", err)
	}

	return nil
}

func (that *dbGameState) GetByID(ctx context.Context, gameID string) (*entity.GameState, error) {
	stateKey := "game:" + gameID

	response, err := that.client.Get(ctx, stateKey).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrGameNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}

	var state entity.GameState
	if err = json.Unmarshal([]byte(response), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game state: %w", err)
	}

	return &state, nil
}

func (that *dbGameState) DeleteByID(ctx context.Context, gameID string) error {
	stateKey := "game:" + gameID

	if err := that.client.Del(ctx, stateKey).Err(); err != nil {
		return fmt.Errorf("failed to delete game state: %w", err)
	}

	return nil
}
