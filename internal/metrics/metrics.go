// Package metrics holds the prometheus collectors for backend calls and
// reconciliation outcomes.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the process-wide registry written by WriteTextfile
var Registry = prometheus.NewRegistry()

var (
	// backendCalls counts generation/embedding calls by backend, operation and outcome
	backendCalls = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "concordia_backend_calls_total",
		Help: "Backend calls by backend, operation and outcome",
	}, []string{"backend", "operation", "outcome"})

	// backendLatency tracks backend call latency
	backendLatency = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concordia_backend_call_duration_seconds",
		Help:    "Backend call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"backend", "operation"})

	conflictsDetected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "concordia_conflicts_detected_total",
		Help: "Conflicts emitted by the detector by type",
	}, []string{"type"})

	claimsVerified = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "concordia_claims_verified_total",
		Help: "Claims verified by resulting status",
	}, []string{"status"})

	documentsIngested = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "concordia_documents_ingested_total",
		Help: "Ingestion attempts by outcome (created, duplicate, failed)",
	}, []string{"outcome"})
)

// ObserveBackendCall records one backend call
func ObserveBackendCall(backend, operation string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	backendCalls.WithLabelValues(backend, operation, outcome).Inc()
	backendLatency.WithLabelValues(backend, operation).Observe(time.Since(started).Seconds())
}

// ConflictDetected counts one emitted conflict
func ConflictDetected(conflictType string) {
	conflictsDetected.WithLabelValues(conflictType).Inc()
}

// ClaimVerified counts one verification outcome
func ClaimVerified(status string) {
	claimsVerified.WithLabelValues(status).Inc()
}

// DocumentIngested counts one ingestion attempt
func DocumentIngested(outcome string) {
	documentsIngested.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the registry in node-exporter textfile format
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
