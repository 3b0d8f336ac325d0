package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/task"
)

func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/tasks", handleTaskList(opts.Store))
	api.GET("/tasks/:id", handleTask(opts.Store))
	api.GET("/tasks/:id/events", handleTaskEvents(opts.Store, opts.PollInterval))
	api.POST("/tasks/:id/abort", handleAbort(opts.Store, opts.Aborter))
	api.GET("/datasets", handleDatasetList(opts.Store))
	api.GET("/datasets/:slug", handleDataset(opts.Store))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleTaskList(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := db.TaskFilter{
			DatasetSlug: c.Query("dataset"),
			Status:      models.TaskState(c.Query("status")),
			Limit:       50,
		}
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			f.Limit = n
		}
		tasks, err := store.ListTaskStatuses(c.Request.Context(), f)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": taskViews(tasks)})
	}
}

func handleTask(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ts, err := store.GetTaskStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, newTaskView(ts))
	}
}

func handleAbort(store Store, aborter Aborter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if aborter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker pool in this process"})
			return
		}
		ctx := c.Request.Context()
		id := c.Param("id")
		if err := aborter.RequestAbort(ctx, id); err != nil {
			fail(c, err)
			return
		}
		ts, err := store.GetTaskStatus(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, newTaskView(ts))
	}
}

func handleDatasetList(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		datasets, err := store.ListDatasets(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]DatasetView, len(datasets))
		for i := range datasets {
			out[i] = newDatasetView(&datasets[i], false)
		}
		c.JSON(http.StatusOK, gin.H{"datasets": out})
	}
}

func handleDataset(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		d, err := store.GetDataset(ctx, c.Param("slug"))
		if err != nil {
			fail(c, err)
			return
		}
		view := newDatasetView(d, true)
		tasks, err := store.ListTaskStatuses(ctx, db.TaskFilter{DatasetSlug: d.Slug, Limit: 10})
		if err != nil {
			fail(c, err)
			return
		}
		view.RecentTasks = taskViews(tasks)
		c.JSON(http.StatusOK, view)
	}
}

// fail maps catalog and task errors onto status codes.
func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, task.ErrInvalidTransition):
		code = http.StatusConflict
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
