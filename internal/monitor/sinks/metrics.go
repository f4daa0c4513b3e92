package sinks

import (
	"context"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/metrics"
)

// MetricsSink counts outcomes by state.
type MetricsSink struct{}

// NewMetricsSink returns a MetricsSink.
func NewMetricsSink() *MetricsSink {
	metrics.Init()
	return &MetricsSink{}
}

// Record increments the outcome counter.
func (*MetricsSink) Record(_ context.Context, o crawler.Outcome) error {
	state := "failed"
	if o.State == crawler.OutcomeSucceeded {
		state = "succeeded"
	}
	metrics.ObserveTargetOutcome(state)
	return nil
}
