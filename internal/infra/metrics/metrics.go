package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the bot fleet.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	ConnectionUpdates *prometheus.CounterVec
	Reconnects        prometheus.Counter
	CredentialWrites  *prometheus.CounterVec
	PairingCodes      *prometheus.CounterVec
	RestoreResults    *prometheus.CounterVec

	// Pipeline metrics
	MessagesProcessed  prometheus.Counter
	StageShortCircuits *prometheus.CounterVec
	StagePanics        *prometheus.CounterVec
	CommandsDispatched *prometheus.CounterVec
	ModerationActions  *prometheus.CounterVec
	GroupNotifications *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry so several
// instances can coexist in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetbot_active_sessions",
			Help: "Number of sessions currently registered",
		}),
		ConnectionUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_connection_updates_total",
			Help: "Connection state transitions by state and close reason",
		}, []string{"state", "reason"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetbot_reconnects_total",
			Help: "Scheduled reconnect attempts",
		}),
		CredentialWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_credential_writes_total",
			Help: "Credential persistence attempts by result",
		}, []string{"result"}),
		PairingCodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_pairing_codes_total",
			Help: "Pairing code requests by result",
		}, []string{"result"}),
		RestoreResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_restore_results_total",
			Help: "Boot-time session restores by result",
		}, []string{"result"}),

		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetbot_messages_processed_total",
			Help: "Inbound messages run through the pipeline",
		}),
		StageShortCircuits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_stage_short_circuits_total",
			Help: "Pipeline stages that fully handled an event",
		}, []string{"stage"}),
		StagePanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_stage_panics_total",
			Help: "Recovered panics by pipeline stage",
		}, []string{"stage"}),
		CommandsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_commands_dispatched_total",
			Help: "Commands dispatched by name and result",
		}, []string{"command", "result"}),
		ModerationActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_moderation_actions_total",
			Help: "Moderation actions by kind",
		}, []string{"kind"}),
		GroupNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbot_group_notifications_total",
			Help: "Group membership notifications by action and result",
		}, []string{"action", "result"}),
	}
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
