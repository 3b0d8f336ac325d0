package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleTaskEvents streams a task's status as server-sent events. A
// "status" event is written whenever the status or message changes; the
// stream ends after the task reaches a terminal state.
func handleTaskEvents(store Store, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		ts, err := store.GetTaskStatus(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		last := newTaskView(ts)
		writeSSE(c.Writer, "status", last)
		c.Writer.Flush()
		if last.Finished {
			return
		}

		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				ts, err := store.GetTaskStatus(ctx, id)
				if err != nil {
					writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
					c.Writer.Flush()
					return
				}
				cur := newTaskView(ts)
				if cur.Status == last.Status && cur.Message == last.Message {
					continue
				}
				last = cur
				writeSSE(c.Writer, "status", cur)
				c.Writer.Flush()
				if cur.Finished {
					return
				}
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
