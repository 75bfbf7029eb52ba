package rdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metrics 语句级别的 prometheus 指标
type Metrics struct {
	statementCounter  *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	activeStatements  *prometheus.GaugeVec
	rowsHistogram     *prometheus.HistogramVec
	retryCounter      *prometheus.CounterVec
}

var metricsByName sync.Map

// NewMetrics 同名的指标只注册一次
func NewMetrics(name string) *Metrics {
	if m, ok := metricsByName.Load(name); ok {
		return m.(*Metrics)
	}
	metrics := &Metrics{
		statementCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_statements_total",
				Help: "Total number of executed statements",
			},
			[]string{"dialect", "client", "operation", "status"},
		),
		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_duration_seconds",
				Help:    "Duration of statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"dialect", "client", "operation"},
		),
		activeStatements: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_statements",
				Help: "Number of in-flight statements",
			},
			[]string{"dialect", "client"},
		),
		rowsHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_rows",
				Help:    "Rows returned or affected by statements",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000},
			},
			[]string{"dialect", "operation"},
		),
		retryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_statement_retries_total",
				Help: "Total number of retried statements",
			},
			[]string{"dialect", "operation"},
		),
	}
	actual, loaded := metricsByName.LoadOrStore(name, metrics)
	if loaded {
		return actual.(*Metrics)
	}
	prometheus.MustRegister(
		metrics.statementCounter,
		metrics.statementDuration,
		metrics.activeStatements,
		metrics.rowsHistogram,
		metrics.retryCounter,
	)
	return metrics
}

// operation 一次语句执行的观测维度
type operation struct {
	name    string
	table   string
	dialect string
	client  string
	sql     string
}

// observe 统一的语句观测逻辑：span、指标和日志
func (m *Manager) observe(ctx context.Context, op *operation, fn func(context.Context) (int64, error)) error {
	start := time.Now()

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, fmt.Sprintf("rdb.%s", op.name),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", op.dialect),
				attribute.String("db.operation", op.name),
				attribute.String("db.sql.table", op.table),
				attribute.String("rdb.client", op.client),
			),
		)
		defer span.End()
	}

	if m.metrics != nil {
		m.metrics.activeStatements.WithLabelValues(op.dialect, op.client).Inc()
		defer m.metrics.activeStatements.WithLabelValues(op.dialect, op.client).Dec()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(
			attribute.String("db.statement", op.sql),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.statementCounter.WithLabelValues(op.dialect, op.client, op.name, status).Inc()
		m.metrics.statementDuration.WithLabelValues(op.dialect, op.client, op.name).Observe(duration.Seconds())
		if err == nil {
			m.metrics.rowsHistogram.WithLabelValues(op.dialect, op.name).Observe(float64(rows))
		}
	}

	if err != nil {
		m.logger.WarnContext(ctx, "statement failed",
			"dialect", op.dialect,
			"client", op.client,
			"operation", op.name,
			"sql", op.sql,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
	} else {
		m.logger.DebugContext(ctx, "statement executed",
			"dialect", op.dialect,
			"client", op.client,
			"operation", op.name,
			"sql", op.sql,
			"rows", rows,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return err
}

func newTracer(name string) trace.Tracer {
	return otel.Tracer(fmt.Sprintf("rdb.%s", name))
}
