package api

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// keepAlive is how often an idle event stream is pinged
var keepAlive = 15 * time.Second

// TaskEventsHandler streams a task's status as server-sent events
func TaskEventsHandler(d *Deps) gin.HandlerFunc {
	return eventsHandler(d, func(ctx context.Context, id uuid.UUID) (interface{}, string, error) {
		v, err := d.Coordinator.GetTask(ctx, id)
		return v, string(v.Status), err
	})
}

// SubtitleEventsHandler streams a subtitle's status as server-sent events
func SubtitleEventsHandler(d *Deps) gin.HandlerFunc {
	return eventsHandler(d, func(ctx context.Context, id uuid.UUID) (interface{}, string, error) {
		v, err := d.Coordinator.GetSubtitle(ctx, id)
		return v, string(v.Status), err
	})
}

// eventsHandler subscribes before reading the snapshot so no transition
// between the two is lost. The stream ends at a terminal status, when the
// client goes away, or straight after the snapshot when no feed is wired.
func eventsHandler(d *Deps, snapshot func(context.Context, uuid.UUID) (interface{}, string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		var events <-chan pipeline.Event
		if d.Feed != nil {
			ch, cancel := d.Feed.Subscribe(id)
			defer cancel()
			events = ch
		}

		view, status, err := snapshot(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("snapshot", view)
		c.Writer.Flush()
		if events == nil || models.IsTerminal(status) {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case ev, open := <-events:
				if !open {
					return false
				}
				c.SSEvent("status", ev)
				return !models.IsTerminal(ev.Status)
			case <-ticker.C:
				c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
				return true
			}
		})
	}
}
