package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/timelycabs/auth/pkg/database"

// QueryObserver records the duration of every traced query and warns about
// the ones slower than its threshold.
type QueryObserver struct {
	service  string
	slow     time.Duration
	logger   *slog.Logger
	duration *prometheus.HistogramVec
}

// NewQueryObserver registers db_query_duration_seconds with reg. A zero slow
// threshold or a nil logger turns the slow-query warning off.
func NewQueryObserver(reg prometheus.Registerer, service string, slow time.Duration, logger *slog.Logger) (*QueryObserver, error) {
	o := &QueryObserver{
		service: service,
		slow:    slow,
		logger:  logger,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries by operation",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"service", "operation", "status"}),
	}
	if err := reg.Register(o.duration); err != nil {
		return nil, fmt.Errorf("register query metrics: %w", err)
	}
	return o, nil
}

func (o *QueryObserver) observe(ctx context.Context, operation string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.duration.WithLabelValues(o.service, operation, status).Observe(elapsed.Seconds())

	if o.slow <= 0 || o.logger == nil || elapsed < o.slow {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.Duration("duration", elapsed),
		slog.Duration("threshold", o.slow),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	o.logger.WarnContext(ctx, "slow query", attrs...)
}

var observer atomic.Pointer[QueryObserver]

// SetQueryObserver installs o for every later TraceQuery call. nil removes it.
func SetQueryObserver(o *QueryObserver) {
	observer.Store(o)
}

// TraceQuery starts a client span for a database operation. Call the returned
// function with the operation's error when it completes:
//
//	ctx, end := database.TraceQuery(ctx, "ConsumeOTP", query)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if o := observer.Load(); o != nil {
			o.observe(ctx, operation, time.Since(start), err)
		}
	}
}
