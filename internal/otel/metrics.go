package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/buildloop-io/buildloop/pkg/models"
)

var (
	initMetricsOnce     sync.Once
	ticketsCounter      metric.Int64Counter
	tokensCounter       metric.Int64Counter
	costCounter         metric.Float64Counter
	ticketDuration      metric.Float64Histogram
	retryCounter        metric.Int64Counter
	sseEventsCounter    metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		ticketsCounter, err = m.Int64Counter("buildloop_tickets_processed_total", metric.WithDescription("Total tickets processed, by outcome status"))
		if err != nil {
			return
		}
		tokensCounter, err = m.Int64Counter("buildloop_tokens_used_total", metric.WithDescription("Total tokens consumed by collaborator agents, by kind"))
		if err != nil {
			return
		}
		costCounter, err = m.Float64Counter("buildloop_build_cost_usd_total", metric.WithDescription("Total estimated agent spend in USD"))
		if err != nil {
			return
		}
		ticketDuration, err = m.Float64Histogram("buildloop_ticket_duration_seconds", metric.WithDescription("Wall-clock ticket processing duration in seconds"))
		if err != nil {
			return
		}
		retryCounter, err = m.Int64Counter("buildloop_test_retry_attempts_total", metric.WithDescription("Total test attempts beyond the first, per ticket run"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("buildloop_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("buildloop_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTicket records one finished ticket: its outcome, spend, and duration.
func RecordTicket(ctx context.Context, phase, status string, usage models.TokenUsage, costUSD float64, duration time.Duration) {
	if ticketsCounter != nil {
		ticketsCounter.Add(ctx, 1, metric.WithAttributes(AttrPhase.String(phase), AttrStatus.String(status)))
	}
	if tokensCounter != nil {
		tokensCounter.Add(ctx, usage.Input, metric.WithAttributes(AttrKind.String("input")))
		tokensCounter.Add(ctx, usage.Output, metric.WithAttributes(AttrKind.String("output")))
		tokensCounter.Add(ctx, usage.CacheCreation, metric.WithAttributes(AttrKind.String("cache_creation")))
		tokensCounter.Add(ctx, usage.CacheRead, metric.WithAttributes(AttrKind.String("cache_read")))
	}
	if costCounter != nil {
		costCounter.Add(ctx, costUSD)
	}
	if ticketDuration != nil {
		ticketDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrPhase.String(phase)))
	}
}

// RecordRetries records the test attempts beyond the first for one ticket.
func RecordRetries(ctx context.Context, attempts int) {
	if retryCounter != nil && attempts > 1 {
		retryCounter.Add(ctx, int64(attempts-1))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TicketCountFunc returns (todo, in_progress, done, errored) counts. Used for
// the buildloop_tickets_total gauge.
type TicketCountFunc func() (todo, inProgress, done, errored int64)

// InitMetricsWithTicketCount creates instruments and optionally registers a
// callback for the per-status ticket gauge. Call after InitMeterProvider. If
// ticketCount is nil, the gauge is not reported.
func InitMetricsWithTicketCount(ctx context.Context, ticketCount TicketCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if ticketCount == nil {
		return nil
	}
	m := Meter()
	ticketsGauge, err := m.Float64ObservableGauge("buildloop_tickets_total", metric.WithDescription("Number of tickets by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		todo, inProgress, done, errored := ticketCount()
		o.ObserveFloat64(ticketsGauge, float64(todo), metric.WithAttributes(AttrStatus.String(models.StatusTodo)))
		o.ObserveFloat64(ticketsGauge, float64(inProgress), metric.WithAttributes(AttrStatus.String(models.StatusInProgress)))
		o.ObserveFloat64(ticketsGauge, float64(done), metric.WithAttributes(AttrStatus.String(models.StatusDone)))
		o.ObserveFloat64(ticketsGauge, float64(errored), metric.WithAttributes(AttrStatus.String(models.StatusError)))
		return nil
	}, ticketsGauge)
	return err
}
