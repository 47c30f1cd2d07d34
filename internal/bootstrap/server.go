package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	swaggerFile     = "slotbooking.swagger.json"
	shutdownTimeout = 5 * time.Second
)

// MountDocs serves the OpenAPI document and a Swagger UI for it under /docs/.
func MountDocs(router *gin.Engine, swaggerDir string) {
	if swaggerDir == "" {
		return
	}
	router.StaticFile("/swagger/"+swaggerFile, filepath.Join(swaggerDir, swaggerFile))
	router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(
		httpSwagger.URL("/swagger/"+swaggerFile),
	)))
}

// Run serves the HTTP API and blocks until ctx is canceled or the server fails.
func Run(ctx context.Context, cfg *config.Config, router *gin.Engine, logger *zap.Logger) error {
	MountDocs(router, cfg.HTTP.SwaggerDir)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("address", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen http %s: %w", cfg.HTTP.Address, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	return g.Wait()
}
