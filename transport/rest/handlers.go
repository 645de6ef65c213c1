package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rocketscienceinc/gamestate-relay/internal/apperror"
)

func pingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// gameHandler - returns the current snapshot for a game, 404 when no state
// exists yet.
func gameHandler(reader snapshotReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID := c.Param("id")

		state, err := reader.Snapshot(c.Request.Context(), gameID)
		if errors.Is(err, apperror.ErrGameNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}

		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game state"})
			return
		}

		c.JSON(http.StatusOK, state)
	}
}
