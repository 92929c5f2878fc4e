// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// Manager holds the fitsync collectors of one registry
type Manager struct {
	// counters
	CounterRequests *prometheus.CounterVec
	CounterRecords  *prometheus.CounterVec

	// histograms
	HistStageDuration   *prometheus.HistogramVec
	HistRequestDuration *prometheus.HistogramVec
}

var _ fitsync.StageMetricsRecorder = (*Manager)(nil)

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterRecords := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stage_records_total",
		Help:      "Records handled by sync stages",
	}, []string{"collection", "op", "stage", "outcome"})

	histStageDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Duration of sync and hydrate stages in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"collection", "op", "stage"})
	histRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "status_code"})

	return &Manager{
		CounterRequests:     counterRequests,
		CounterRecords:      counterRecords,
		HistStageDuration:   histStageDuration,
		HistRequestDuration: histRequestDuration,
	}
}

// NewTestManagerAndRegistry returns a manager over a fresh registry
func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("fitsync", "test", reg), reg
}

// ObserveStage records one coordinator stage timing
func (m *Manager) ObserveStage(_ context.Context, timing fitsync.StageTiming) {
	m.HistStageDuration.WithLabelValues(timing.Collection, timing.Operation, timing.Stage).
		Observe(timing.Duration.Seconds())

	outcome := "ok"
	if timing.Error {
		outcome = "error"
	}
	if timing.Count > 0 {
		m.CounterRecords.WithLabelValues(timing.Collection, timing.Operation, timing.Stage, outcome).
			Add(float64(timing.Count))
	}
}

// RequestMetrics counts and times requests served by next
func (m *Manager) RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		resp := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(resp, r)

		status := strconv.Itoa(resp.statusCode)
		m.CounterRequests.With(prometheus.Labels{"method": r.Method, "status": status}).Inc()
		m.HistRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(begin).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.statusCode = statusCode
}
