package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/pipeline"

type instruments struct {
	duration          metric.Float64Histogram
	wordsPerMinute    metric.Float64Histogram
	transformFailures metric.Int64Counter
	deliveryFailures  metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.duration, err = meter.Float64Histogram("dictation.process.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time from transcript to delivered text")); err != nil {
		return nil, err
	}
	if in.wordsPerMinute, err = meter.Float64Histogram("dictation.words_per_minute",
		metric.WithDescription("Speech rate of processed dictations")); err != nil {
		return nil, err
	}
	if in.transformFailures, err = meter.Int64Counter("dictation.transform.failures",
		metric.WithDescription("Text transform calls that fell back to the raw transcript")); err != nil {
		return nil, err
	}
	if in.deliveryFailures, err = meter.Int64Counter("dictation.delivery.failures",
		metric.WithDescription("Dictations that no delivery strategy could insert")); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) recordProcess(ctx context.Context, elapsed time.Duration, wpm float64, contextType string, delivered bool) {
	if in == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("context_type", contextType), attribute.Bool("delivered", delivered))
	in.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if wpm > 0 {
		in.wordsPerMinute.Record(ctx, wpm, attrs)
	}
	if !delivered {
		in.deliveryFailures.Add(ctx, 1)
	}
}

func (in *instruments) transformFailed(ctx context.Context) {
	if in == nil {
		return
	}
	in.transformFailures.Add(ctx, 1)
}
