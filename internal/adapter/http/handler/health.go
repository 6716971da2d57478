package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"marketplace-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

// optional is implemented by dependencies the engine can run without,
// such as the Redis fast path.
type optional interface {
	Optional() bool
}

type dependencyReport struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck handles GET /health. Every dependency is probed concurrently.
// A failing required dependency answers 503; a failing optional one only
// marks the service degraded.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			mu       sync.Mutex
			reports  = make(map[string]dependencyReport, len(checkers))
			down     bool
			degraded bool
		)

		g, ctx := errgroup.WithContext(c.Request.Context())
		for _, checker := range checkers {
			g.Go(func() error {
				pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
				defer cancel()

				start := time.Now()
				err := checker.Ping(pingCtx)
				report := dependencyReport{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Status = "unhealthy"
					report.Error = err.Error()
					if opt, ok := checker.(optional); ok && opt.Optional() {
						degraded = true
					} else {
						down = true
					}
				}
				reports[checker.Name()] = report
				return nil
			})
		}
		_ = g.Wait()

		status, code := "healthy", http.StatusOK
		switch {
		case down:
			status, code = "unhealthy", http.StatusServiceUnavailable
		case degraded:
			status = "degraded"
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": reports,
		})
	}
}
