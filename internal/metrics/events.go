package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// EventCollector turns vault events into prometheus series.
type EventCollector struct {
	events    *prometheus.CounterVec
	pending   prometheus.Gauge
	deposited *prometheus.CounterVec
	withdrawn *prometheus.CounterVec
}

func NewEventCollector(reg prometheus.Registerer) *EventCollector {
	f := promauto.With(reg)
	return &EventCollector{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_total",
			Help: "Vault state changes, labeled by event kind",
		}, []string{"kind"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_pending_withdrawals",
			Help: "Withdrawal requests created and not yet processed or deleted",
		}),
		deposited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_deposited_amount_total",
			Help: "Amount deposited, labeled by asset",
		}, []string{"asset"}),
		withdrawn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_withdrawn_amount_total",
			Help: "Amount released by processed withdrawals, labeled by asset",
		}, []string{"asset"}),
	}
}

// Subscriber is implemented by *vault.Vault.
type Subscriber interface {
	Subscribe(fn func(domain.Event), kinds ...domain.EventKind)
}

func (c *EventCollector) Attach(s Subscriber) {
	s.Subscribe(c.Observe)
}

func (c *EventCollector) Observe(ev domain.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.EventRequestCreated:
		c.pending.Inc()
	case domain.EventRequestProcessed:
		c.pending.Dec()
		c.withdrawn.WithLabelValues(string(ev.Asset)).Add(float64(ev.Amount))
	case domain.EventRequestDeleted:
		c.pending.Dec()
	case domain.EventDeposited:
		c.deposited.WithLabelValues(string(ev.Asset)).Add(float64(ev.Amount))
	}
}

// Withdrawn is the released-amount counter for asset.
func (c *EventCollector) Withdrawn(asset domain.Asset) prometheus.Counter {
	return c.withdrawn.WithLabelValues(string(asset))
}

// Pending is the gauge of live withdrawal requests.
func (c *EventCollector) Pending() prometheus.Gauge {
	return c.pending
}
