package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "steploop",
			"version": version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		if s.source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session"})
			return
		}
		st := s.source.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"run_id":        st.RunID,
			"phase":         string(st.Phase),
			"active_thread": st.ActiveThread,
			"elapsed":       st.Elapsed.String(),
			"stats": gin.H{
				"requests":            st.Stats.Requests,
				"events":              st.Stats.Events,
				"stops":               st.Stats.Stops,
				"duplicate_stops":     st.Stats.DuplicateStops,
				"spontaneous_events":  st.Stats.SpontaneousEvents,
				"steps_completed":     st.Stats.StepsCompleted,
				"tolerated_failures":  st.Stats.ToleratedFailures,
				"duplicate_responses": st.Stats.DuplicateResponses,
				"peak_rss_kb":         st.Stats.PeakRSSKB,
			},
		})
	})

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}
