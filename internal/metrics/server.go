// Package metrics exposes a tiny HTTP surface for operational visibility
// into the daemon: a liveness probe and a snapshot of the counters the
// daemon loop maintains. It carries none of the session or firewall state
// itself.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is the set of counters reported by /metrics. RulesUpdated adds
// up, over all iterations, the number of allowed endpoints placed in the
// firewall plans. It does not count the element commands a backend actually
// issued: an iteration with no firewall change still adds every allowed
// endpoint.
type Snapshot struct {
	LastIterationSeconds float64 `json:"last_iteration_seconds"`
	RulesUpdated         int64   `json:"rules_updated_total"`
	PeersOverLimit       int     `json:"peers_over_limit"`
	IterationsTotal      int64   `json:"iterations_total"`
}

// Collector is the minimal interface the metrics server needs from the
// daemon loop to render a Snapshot.
type Collector interface {
	Snapshot() Snapshot
}

// Server serves /healthz and /metrics over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds a gin router exposing the two endpoints and binds it to
// addr. The server is not started until Run is called.
func NewServer(addr string, collector Collector, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), requestLogger(logger), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.Snapshot())
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		logger: logger,
	}
}

// Run starts serving until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("metrics request",
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request-id", c.GetString("request_id")),
		)
	}
}

// Counters is the concurrency-safe Collector implementation the daemon loop
// updates after every iteration.
type Counters struct {
	mu   sync.Mutex
	data Snapshot
}

// NewCounters returns a Collector the daemon loop can update in place.
func NewCounters() *Counters {
	return &Counters{}
}

// Record folds one iteration's results into the running counters.
func (c *Counters) Record(lastIteration time.Duration, rulesUpdated int64, peersOverLimit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.LastIterationSeconds = lastIteration.Seconds()
	c.data.RulesUpdated += rulesUpdated
	c.data.PeersOverLimit = peersOverLimit
	c.data.IterationsTotal++
}

// Snapshot returns a copy of the current counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}
