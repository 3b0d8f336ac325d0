// Package dashboard serves the status API used by operators and the
// newsroom tools: task and dataset state, abort requests, a progress
// stream and a health check.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/models"
)

// Store is the catalog slice the API reads.
type Store interface {
	GetTaskStatus(ctx context.Context, id string) (*models.TaskStatus, error)
	ListTaskStatuses(ctx context.Context, f db.TaskFilter) ([]models.TaskStatus, error)
	GetDataset(ctx context.Context, slug string) (*models.Dataset, error)
	ListDatasets(ctx context.Context) ([]models.Dataset, error)
}

// Aborter requests cancellation of a run.
type Aborter interface {
	RequestAbort(ctx context.Context, id string) error
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Store   Store
	Aborter Aborter
	Port    int
	Out     io.Writer
	// PollInterval is how often the event stream re-reads a task.
	PollInterval time.Duration
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("dashboard: store is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           newRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
