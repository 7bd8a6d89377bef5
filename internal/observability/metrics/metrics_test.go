package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveStage("screening", "ok", 120*time.Millisecond)
	m.ObserveStage("screening", "ok", 80*time.Millisecond)
	m.ObserveStage("reporting", "error", 1500*time.Millisecond)

	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("screening", "ok")); got != 2 {
		t.Errorf("expected 2 screening ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("reporting", "error")); got != 1 {
		t.Errorf("expected 1 reporting error, got %v", got)
	}
}

func TestObserveBlockAndRenders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveBlock()
	m.ObserveImageRender("nightmare", "ok")
	m.ObserveImageRender("reconstructed", "error")

	expected := `
		# HELP boyeodream_pipeline_moderation_blocks_total Sessions blocked by safety screening
		# TYPE boyeodream_pipeline_moderation_blocks_total counter
		boyeodream_pipeline_moderation_blocks_total 1
	`
	if err := testutil.CollectAndCompare(m.moderationBlocks, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected block counter output: %v", err)
	}
	if got := testutil.ToFloat64(m.imageRenders.WithLabelValues("nightmare", "ok")); got != 1 {
		t.Errorf("expected 1 nightmare ok render, got %v", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveStage("screening", "ok", 0)
	m.ObserveBlock()
	m.ObserveImageRender("nightmare", "ok")
}
