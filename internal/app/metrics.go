package app

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
	"github.com/omdev04/WhatsOTP/internal/events"
)

// Metrics observes the event hub and exposes Prometheus collectors.
// It consumes the same stream dashboards do, so instrumented code paths
// carry no metrics dependencies of their own.
type Metrics struct {
	log Logger
	hub *events.Hub
	reg *prometheus.Registry

	connState    *prometheus.GaugeVec
	stateChanges *prometheus.CounterVec
	otpSent      *prometheus.CounterVec
	otpVerified  *prometheus.CounterVec
}

var connStates = []string{"idle", "connecting", "awaiting_scan", "online", "reconnecting", "closing", "failed"}

// NewMetrics builds the registry and collectors. hub may not be nil.
func NewMetrics(log Logger, hub *events.Hub) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		log: log,
		hub: hub,
		reg: reg,
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whatsotp_connection_state",
			Help: "Current messaging-session state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsotp_connection_state_changes_total",
			Help: "Connection state transitions by target state and reason.",
		}, []string{"state", "reason"}),
		otpSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsotp_otp_sent_total",
			Help: "OTP send attempts by outcome.",
		}, []string{"outcome"}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsotp_otp_verified_total",
			Help: "OTP verification attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.connState, m.stateChanges, m.otpSent, m.otpVerified)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "whatsotp_event_subscribers",
		Help: "Currently connected event stream subscribers.",
	}, func() float64 { return float64(hub.Count()) }))

	for _, s := range connStates {
		m.connState.WithLabelValues(s).Set(0)
	}

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Run subscribes to the hub and updates collectors until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context) {
	sub, snap := m.hub.Subscribe()
	defer m.hub.Unsubscribe(sub.ID)

	m.observe(snap)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case env := <-sub.C:
			m.observe(env)
		}
	}
}

func (m *Metrics) observe(env v1.Envelope) {
	switch env.Type {
	case v1.TypeSnapshot:
		var p v1.SnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		m.setState(p.State)

	case v1.TypeState:
		var p v1.StatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		m.setState(p.State)
		m.stateChanges.WithLabelValues(p.State, p.Reason).Inc()

	case v1.TypeOTPSent:
		var p v1.OTPSentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		m.otpSent.WithLabelValues(outcome(p.Success)).Inc()

	case v1.TypeOTPVerified:
		var p v1.OTPVerifiedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		m.otpVerified.WithLabelValues(outcome(p.Success)).Inc()
	}
}

func (m *Metrics) setState(active string) {
	for _, s := range connStates {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
