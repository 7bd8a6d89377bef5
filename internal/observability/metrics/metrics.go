package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics exposes counters/histograms for the dream pipeline stages.
type PipelineMetrics struct {
	stageTotal       *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	moderationBlocks prometheus.Counter
	imageRenders     *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boyeodream",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Total pipeline stage executions by outcome",
		}, []string{"stage", "status"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boyeodream",
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Latency of pipeline stage execution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		moderationBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boyeodream",
			Subsystem: "pipeline",
			Name:      "moderation_blocks_total",
			Help:      "Sessions blocked by safety screening",
		}),
		imageRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boyeodream",
			Subsystem: "pipeline",
			Name:      "image_renders_total",
			Help:      "Image render attempts by variant and status",
		}, []string{"variant", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stageTotal, m.stageLatency, m.moderationBlocks, m.imageRenders)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveBlock() {
	if m == nil {
		return
	}
	m.moderationBlocks.Inc()
}

func (m *PipelineMetrics) ObserveImageRender(variant, status string) {
	if m == nil {
		return
	}
	m.imageRenders.WithLabelValues(variant, status).Inc()
}
