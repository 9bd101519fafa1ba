package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/util/workerpool"
)

// QueueStats is the slice of the offline queue the server reports on.
type QueueStats interface {
	Depth() int
}

// SyncStatus is the slice of the engine the readiness check reads.
type SyncStatus interface {
	IsShared() bool
	IsSyncing() bool
	IsOffline() bool
}

// MetricsServer serves Prometheus metrics plus health and readiness
// endpoints over HTTP.
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	logger     *zap.Logger
	queue      QueueStats
	engine     SyncStatus
	pool       *workerpool.WorkerPool
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, queue QueueStats, engine SyncStatus, pool *workerpool.WorkerPool, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		logger:   logger,
		queue:    queue,
		engine:   engine,
		pool:     pool,
		stopChan: make(chan struct{}),
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)

	return ms
}

// Start starts the metrics server and the background stats collector.
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go s.collectStats()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

// healthHandler handles health check requests
func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// readyHandler reports readiness. The device is ready as long as the
// engine is not stuck offline with a backed-up queue; a non-empty queue by
// itself is normal operation.
func (s *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	depth := s.queue.Depth()
	offline := s.engine.IsOffline()

	w.Header().Set("Content-Type", "application/json")
	if offline && depth > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","reason":"offline","queue_depth":%d}`, depth)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","timestamp":"%s","shared":%t,"syncing":%t,"queue_depth":%d}`,
		time.Now().Format(time.RFC3339), s.engine.IsShared(), s.engine.IsSyncing(), depth)
}

// collectStats periodically mirrors queue and pool counters into gauges.
func (s *MetricsServer) collectStats() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateStats()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) updateStats() {
	s.metrics.QueueDepth.Set(float64(s.queue.Depth()))

	stats := s.pool.Stats()
	s.metrics.PushTasksCompleted.Set(float64(stats.CompletedTasks))
	s.metrics.PushTasksFailed.Set(float64(stats.FailedTasks))
	s.metrics.PushTasksRejected.Set(float64(stats.RejectedTasks))
}
