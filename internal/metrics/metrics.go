package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection outcomes used as the "result" label of ConnectionsTotal.
const (
	ResultRouted             = "routed"
	ResultRouteMissing       = "route_missing"
	ResultDecodeFailed       = "decode_failed"
	ResultBackendUnreachable = "backend_unreachable"
)

var (
	ConnectionsTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "craftrouter_connections_total", Help: "Accepted client connections by outcome"}, []string{"result"})
	ActiveSessions     = promauto.NewGauge(prometheus.GaugeOpts{Name: "craftrouter_active_sessions", Help: "Relays currently pumping bytes"})
	BytesRelayedTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "craftrouter_bytes_relayed_total", Help: "Bytes copied by relays"}, []string{"direction"})
	RelayErrorsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "craftrouter_relay_errors_total", Help: "Relays that ended on an I/O error rather than EOF"})
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "craftrouter_registrations_total", Help: "Routes written through the registration API"})
	Routes             = promauto.NewGauge(prometheus.GaugeOpts{Name: "craftrouter_routes", Help: "Routes currently in the table"})
	SessionDuration    = promauto.NewHistogram(prometheus.HistogramOpts{Name: "craftrouter_session_duration_seconds", Help: "Relay lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 18)})
)
