package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/frontdesk-io/frontdesk/internal/llm"

var (
	tokensHistogram   metric.Int64Histogram
	costHistogram     metric.Float64Histogram
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	tokensHistogram, err = meter.Int64Histogram(
		"frontdesk.llm.tokens",
		metric.WithDescription("Total tokens per LLM request"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return
	}
	costHistogram, err = meter.Float64Histogram(
		"frontdesk.llm.cost",
		metric.WithDescription("Estimated cost in EUR per LLM request"),
		metric.WithUnit("eur"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

// RecordUsage records token and cost metrics after a successful call on
// provider. The purpose attribute distinguishes plan, repair, and answer
// calls.
func RecordUsage(ctx context.Context, provider Provider, resp *Response, purpose string) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered || resp == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider.Name()),
		attribute.String("model", resp.Model),
		attribute.String("purpose", purpose),
	)
	tokensHistogram.Record(ctx, int64(resp.InputTokens+resp.OutputTokens), attrs)
	costHistogram.Record(ctx, provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens), attrs)
}
