package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loramapper_cycles_total",
		Help: "Completed beacon cycles by outcome",
	}, []string{"outcome"})
	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loramapper_cycles_skipped_total",
		Help: "Cycle triggers dropped because the previous cycle overran the period",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loramapper_nmea_parse_errors_total",
		Help: "NMEA sentences rejected during acquisition by failure kind",
	}, []string{"kind"})
	AcquireSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loramapper_acquire_seconds",
		Help:    "Time spent per GNSS acquisition window",
		Buckets: prometheus.DefBuckets,
	})
	Uplinks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loramapper_uplinks_total",
		Help: "Payloads handed to the radio",
	})
	UplinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loramapper_uplink_errors_total",
		Help: "Payloads the radio refused to send",
	})
	JoinAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loramapper_join_attempts_total",
		Help: "OTAA join polls that did not (yet) succeed",
	})
	Joined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loramapper_joined",
		Help: "1 when a transmit-capable radio handle exists",
	})
)
