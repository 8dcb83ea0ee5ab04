package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BookingTotal    *prometheus.CounterVec // op=create|approve|reject|cancel, result=success|unavailable|not_found|error
	SettlementTotal *prometheus.CounterVec // result=success|already_processed|security_check_failed|not_found|error

	OpLatencyMS *prometheus.HistogramVec // op

	DBBusyTotal         *prometheus.CounterVec // op
	NotifyFailuresTotal *prometheus.CounterVec // handler

	PendingBookings    prometheus.Gauge
	PendingSettlements prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in the server and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_ops_total",
				Help: "Booking lifecycle operations by op and result",
			},
			[]string{"op", "result"},
		),
		SettlementTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_ops_total",
				Help: "Settlement attempts by result",
			},
			[]string{"result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booking_op_latency_ms",
				Help:    "Latency of lifecycle operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
		DBBusyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_db_busy_total",
				Help: "Total sqlite busy/locked errors",
			},
			[]string{"op"},
		),
		NotifyFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_notify_failures_total",
				Help: "Event handler failures by handler",
			},
			[]string{"handler"},
		),
		PendingBookings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bookings_pending",
			Help: "Booking requests waiting for the owner's decision",
		}),
		PendingSettlements: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlements_pending",
			Help: "Confirmed bookings whose settlement has not been processed",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BookingTotal,
			m.SettlementTotal,
			m.OpLatencyMS,
			m.DBBusyTotal,
			m.NotifyFailuresTotal,
			m.PendingBookings,
			m.PendingSettlements,
		)
	}

	return m
}
