package workflows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/reviewd/internal/workflows"

var (
	metricsOnce          sync.Once
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
	workflowStarts       metric.Int64Counter
)

// initMetrics creates the instruments on first use, after the meter
// provider has been installed.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	activityDuration, err = meter.Float64Histogram(
		"reviewd.workflows.activity.duration",
		metric.WithDescription("Duration of review activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"reviewd.workflows.activity.errors",
		metric.WithDescription("Review activity failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}

	workflowStarts, err = meter.Int64Counter(
		"reviewd.workflows.starts",
		metric.WithDescription("Workflows started by triggers"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow start counter: %v", err))
	}
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	metricsOnce.Do(initMetrics)
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}

func recordStart(ctx context.Context, workflowName string) {
	metricsOnce.Do(initMetrics)
	workflowStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflowName)))
}
