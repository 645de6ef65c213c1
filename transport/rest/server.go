package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rocketscienceinc/gamestate-relay/internal/entity"
)

type snapshotReader interface {
	Snapshot(ctx context.Context, gameID string) (*entity.GameState, error)
}

// Start - starts the REST server: liveness, read-only snapshot access and
// prometheus metrics.
func Start(ctx context.Context, port string, reader snapshotReader) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      newRouter(reader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
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

func newRouter(reader snapshotReader) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ping", pingHandler)
	router.GET("/games/:id", gameHandler(reader))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
