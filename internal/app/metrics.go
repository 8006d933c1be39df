package app

import (
	"context"

	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/dkeye/tempvoice"

// Metrics records lifecycle counters on the global meter provider.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	provisioned    metric.Int64Counter
	retired        metric.Int64Counter
	quotaRejected  metric.Int64Counter
	graceCancelled metric.Int64Counter
	sweepErrors    metric.Int64Counter
}

func NewMetrics(reg *Registry) *Metrics {
	meter := otel.Meter(meterName)
	m := &Metrics{
		provisioned:    counter(meter, "tempvoice.rooms.provisioned", "Ephemeral rooms created"),
		retired:        counter(meter, "tempvoice.rooms.retired", "Ephemeral rooms removed"),
		quotaRejected:  counter(meter, "tempvoice.quota.rejected", "Joins rejected by the per-member quota"),
		graceCancelled: counter(meter, "tempvoice.grace.cancelled", "Grace timers cancelled by a rejoin"),
		sweepErrors:    counter(meter, "tempvoice.sweep.errors", "Per-room failures during reconciliation"),
	}
	if reg != nil {
		_, err := meter.Int64ObservableGauge(
			"tempvoice.rooms.tracked",
			metric.WithDescription("Ephemeral rooms tracked in memory"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(reg.Len()))
				return nil
			}),
		)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.metrics").Msg("tracked rooms gauge")
		}
	}
	return m
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.metrics").Str("metric", name).Msg("falling back to noop counter")
		c, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
	}
	return c
}

func communityAttr(c domain.CommunityID) metric.AddOption {
	return metric.WithAttributes(attribute.String("community", string(c)))
}

func (m *Metrics) RoomProvisioned(ctx context.Context, c domain.CommunityID) {
	if m == nil {
		return
	}
	m.provisioned.Add(ctx, 1, communityAttr(c))
}

func (m *Metrics) RoomRetired(ctx context.Context, c domain.CommunityID, reason string) {
	if m == nil {
		return
	}
	m.retired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("community", string(c)),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) QuotaRejected(ctx context.Context, c domain.CommunityID) {
	if m == nil {
		return
	}
	m.quotaRejected.Add(ctx, 1, communityAttr(c))
}

func (m *Metrics) GraceCancelled(ctx context.Context, c domain.CommunityID) {
	if m == nil {
		return
	}
	m.graceCancelled.Add(ctx, 1, communityAttr(c))
}

func (m *Metrics) SweepError(ctx context.Context) {
	if m == nil {
		return
	}
	m.sweepErrors.Add(ctx, 1)
}
