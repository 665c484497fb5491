package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"QuoteFlow/internal/domain/models"
)

// QuoteMetrics exports the signal set, risk verdicts and inventory.
type QuoteMetrics struct {
	signals   *prometheus.GaugeVec
	ready     prometheus.Gauge
	decisions *prometheus.CounterVec
	position  prometheus.Gauge
	avgPrice  prometheus.Gauge
	realized  prometheus.Gauge
}

func NewQuoteMetrics(reg prometheus.Registerer) *QuoteMetrics {
	f := promauto.With(reg)
	return &QuoteMetrics{
		signals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "quoteflow",
				Subsystem: "signal",
				Name:      "value",
				Help:      "Latest value of each derived signal",
			},
			[]string{"signal"},
		),
		ready: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "quoteflow",
			Subsystem: "signal",
			Name:      "ready",
			Help:      "1 when the snapshot has enough data to quote",
		}),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quoteflow",
				Subsystem: "risk",
				Name:      "decisions_total",
				Help:      "Risk decisions by side and outcome",
			},
			[]string{"side", "outcome"},
		),
		position: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "quoteflow", Subsystem: "ledger", Name: "net_position",
			Help: "Current net position",
		}),
		avgPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "quoteflow", Subsystem: "ledger", Name: "avg_entry_price",
			Help: "Weighted average entry price of the open position",
		}),
		realized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "quoteflow", Subsystem: "ledger", Name: "realized_pnl",
			Help: "Realized PnL since start",
		}),
	}
}

func (m *QuoteMetrics) ObserveSnapshot(s models.SignalSnapshot) {
	m.signals.WithLabelValues("trend").Set(s.Trend)
	m.signals.WithLabelValues("twap").Set(s.TWAP)
	m.signals.WithLabelValues("slide").Set(s.Slide)
	m.signals.WithLabelValues("norm_slide").Set(s.NormSlide)
	m.signals.WithLabelValues("fill_score").Set(s.FillScore)
	m.signals.WithLabelValues("deviation").Set(s.Deviation)
	m.signals.WithLabelValues("volatility").Set(s.Volatility)
	m.signals.WithLabelValues("mid").Set(s.Mid)
	if s.Insufficient() {
		m.ready.Set(0)
	} else {
		m.ready.Set(1)
	}
}

func (m *QuoteMetrics) RecordDecision(d models.RiskDecision) {
	m.decisions.WithLabelValues(d.Proposal.Side.String(), string(d.Outcome)).Inc()
}

func (m *QuoteMetrics) ObserveLedger(l models.LedgerState) {
	m.position.Set(l.NetPosition)
	m.avgPrice.Set(l.AvgEntryPrice)
	m.realized.Set(l.RealizedPnL)
}
