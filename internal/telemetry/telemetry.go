package telemetry

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
)

/*
Telemetry wires the ambient logging/metrics stack shared by every
component: a zap logger for structured events and a private Prometheus
registry for the counters/gauges named in the domain design (proxy
burns, CAPTCHA solves, circuit trips, export throughput).

No HTTP server is started here; WritePrometheus is the only exposition
surface, left for the caller to wire into its own handler if desired.
*/
type Telemetry struct {
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Sink     metadata.MetadataSink

	ProxyBurns       prometheus.Counter
	ProxyReplacements prometheus.Counter
	CircuitTrips     *prometheus.CounterVec
	CaptchaSolves    *prometheus.CounterVec
	ChallengeSolves  prometheus.Counter
	ExportWritten    prometheus.Counter
}

// New builds a Telemetry instance. development toggles zap's human-readable
// console encoder; production builds use the JSON encoder.
func New(development bool) (*Telemetry, error) {
	var log *zap.Logger
	var err error
	if development {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()

	t := &Telemetry{
		Logger:   log,
		Registry: reg,
		ProxyBurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antibot_proxy_burns_total",
			Help: "Proxies permanently burned and evicted from the pool.",
		}),
		ProxyReplacements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antibot_proxy_replacements_total",
			Help: "Proxies fetched from the premium provider to replace burned ones.",
		}),
		CircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "antibot_circuit_trips_total",
			Help: "Circuit breaker open transitions by identifier kind.",
		}, []string{"scope"}),
		CaptchaSolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "antibot_captcha_solves_total",
			Help: "CAPTCHA solve attempts by outcome.",
		}, []string{"outcome"}),
		ChallengeSolves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antibot_challenge_solves_total",
			Help: "Successful challenge-solver escalations.",
		}),
		ExportWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antibot_export_records_total",
			Help: "Product records appended to the partial writer.",
		}),
	}

	reg.MustRegister(
		t.ProxyBurns,
		t.ProxyReplacements,
		t.CircuitTrips,
		t.CaptchaSolves,
		t.ChallengeSolves,
		t.ExportWritten,
	)

	t.Sink = metadata.NewRecorder(log, reg)
	return t, nil
}

// WritePrometheus renders the current metric snapshot in text exposition
// format. Callers decide whether/how to serve it over HTTP.
func (t *Telemetry) WritePrometheus(w io.Writer) error {
	families, err := t.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
