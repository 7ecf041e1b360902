package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// FlowTracker counts direct server flows that have not finished yet. A
// streamed completion stays in flight until its relay is drained.
type FlowTracker struct {
	count atomic.Int64
}

// Count returns the number of flows in flight.
func (ft *FlowTracker) Count() int64 {
	return ft.count.Load()
}

// ActiveFlows is the tracker the direct server reports on /healthz.
var ActiveFlows = &FlowTracker{}

// FlowTrackerMiddleware counts every request except /healthz and /metrics.
func FlowTrackerMiddleware(tracker *FlowTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		tracker.count.Add(1)
		defer tracker.count.Add(-1)
		c.Next()
	}
}
