package modelserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
)

const metricsNamespace = "model_server"

type Metrics struct {
	Registry    *prometheus.Registry
	Predictions *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	ModelReady  *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "predictions_total",
			Help:      "Number of prediction requests by model and outcome.",
		}, []string{"model", "outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		ModelReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "model_ready",
			Help:      "1 when the model is loaded and serving.",
		}, []string{"model"}),
	}
	m.Registry.MustRegister(
		m.Predictions,
		m.Latency,
		m.ModelReady,
		version.NewCollector(metricsNamespace),
		prometheus.NewGoCollector(),
	)
	return m
}
