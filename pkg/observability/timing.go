package observability

import (
	"log/slog"
	"time"
)

// Timer measures one operation and reports it to a logger and metrics.
type Timer struct {
	operation string
	start     time.Time
	logger    *slog.Logger
	metrics   Metrics
	tags      []Tag
}

// StartTimer starts timing operation.
func StartTimer(operation string) *Timer {
	return &Timer{operation: operation, start: time.Now()}
}

// WithLogger logs the outcome when the timer stops.
func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

// WithMetrics records the outcome when the timer stops.
func (t *Timer) WithMetrics(metrics Metrics) *Timer {
	t.metrics = metrics
	return t
}

// WithTags adds metric labels.
func (t *Timer) WithTags(tags ...Tag) *Timer {
	t.tags = append(t.tags, tags...)
	return t
}

// StopWithError records the duration and, if err is set, an error count.
func (t *Timer) StopWithError(err error) time.Duration {
	duration := time.Since(t.start)

	if t.logger != nil {
		if err != nil {
			t.logger.Warn("operation failed",
				OperationKey, t.operation,
				DurationKey, duration.Milliseconds(),
				ErrorKey, err.Error(),
			)
		} else {
			t.logger.Debug("operation completed",
				OperationKey, t.operation,
				DurationKey, duration.Milliseconds(),
			)
		}
	}

	if t.metrics != nil {
		tags := append(append([]Tag(nil), t.tags...), T(OperationKey, t.operation))
		t.metrics.Timing(MetricOperationDuration, duration, tags...)
		t.metrics.Counter(MetricOperationTotal, 1, tags...)
		if err != nil {
			t.metrics.Counter(MetricOperationErrors, 1, tags...)
		}
	}
	return duration
}

// TimeOperation runs fn under a timer.
func TimeOperation(logger *slog.Logger, metrics Metrics, operation string, fn func() error) error {
	timer := StartTimer(operation).WithLogger(logger).WithMetrics(metrics)
	err := fn()
	timer.StopWithError(err)
	return err
}
