package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "download",
			Name:      "total",
			Help:      "Number of finished downloads by result.",
		}, []string{"result"},
	)
	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to disk by downloads.",
		},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "process",
			Name:      "launch_total",
			Help:      "Number of detached processes launched.",
		}, []string{"name"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "process",
			Name:      "terminate_total",
			Help:      "Number of terminate attempts by result.",
		}, []string{"name", "result"},
	)
	yamlOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "yaml",
			Name:      "ops_total",
			Help:      "YAML file reads and writes by result.",
		}, []string{"op", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{downloads, downloadBytes, launches, terminations, yamlOps}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func ObserveDownload(n int64, err error) {
	if !regOK.Load() {
		return
	}
	downloads.WithLabelValues(result(err)).Inc()
	if n > 0 {
		downloadBytes.Add(float64(n))
	}
}

func IncLaunch(name string) {
	if regOK.Load() {
		launches.WithLabelValues(name).Inc()
	}
}

func ObserveTerminate(name string, err error) {
	if regOK.Load() {
		terminations.WithLabelValues(name, result(err)).Inc()
	}
}

func ObserveYAML(op string, err error) {
	if regOK.Load() {
		yamlOps.WithLabelValues(op, result(err)).Inc()
	}
}
