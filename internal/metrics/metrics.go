// Package metrics exposes Prometheus counters/gauges for rooms, sessions,
// and wire traffic, served over /metrics via promhttp. The reference
// server's RunMetrics only logged a periodic summary line; this rewrites
// that concern against github.com/prometheus/client_golang, matching the
// idiomatic way the pack's kstaniek-go-ampio-server exposes metrics,
// instead of carrying forward a plain log.Printf ticker for something
// operators actually want to scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge this process registers.
type Metrics struct {
	RoomsActive      prometheus.Gauge
	PlayersConnected prometheus.Gauge
	RoomsCreated     prometheus.Counter
	RoomsClosed      prometheus.Counter
	TicksRun         prometheus.Counter
	InputsAccepted   prometheus.Counter
	InputsRejected   *prometheus.CounterVec
	StateBytesSent   prometheus.Counter
	ControlBytesSent prometheus.Counter
	TransportKind    *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamecore", Name: "rooms_active", Help: "Rooms with a running simulation.",
		}),
		PlayersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamecore", Name: "players_connected", Help: "Sessions currently bound to a room.",
		}),
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "rooms_created_total", Help: "Rooms created since process start.",
		}),
		RoomsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "rooms_closed_total", Help: "Rooms closed since process start.",
		}),
		TicksRun: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "sim_ticks_total", Help: "Simulation ticks run across all rooms.",
		}),
		InputsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "inputs_accepted_total", Help: "Player inputs accepted into the simulation.",
		}),
		InputsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "inputs_rejected_total", Help: "Player inputs rejected, by error kind.",
		}, []string{"kind"}),
		StateBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "state_bytes_sent_total", Help: "Bytes sent on the state channel.",
		}),
		ControlBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "control_bytes_sent_total", Help: "Bytes sent on the control channel.",
		}),
		TransportKind: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecore", Name: "sessions_established_total", Help: "Sessions established, by transport kind.",
		}, []string{"kind"}),
	}
}
