package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Presence metrics
	PresenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_presence_transitions_total",
			Help: "Total presence state transitions",
		},
		[]string{"from", "to"},
	)

	PresenceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "restwell_presence_state",
			Help: "Current presence state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_signals_total",
			Help: "Total signals received by the presence monitor",
		},
		[]string{"kind"},
	)

	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_signals_dropped_total",
			Help: "Signals dropped before evaluation",
		},
		[]string{"reason"},
	)

	// Query metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restwell_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// Reminder metrics
	RemindersDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_reminders_dispatched_total",
			Help: "Reminder fire times handed to a dispatcher",
		},
		[]string{"dispatcher"},
	)

	// Schedule metrics
	ScheduleReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_schedule_reloads_total",
			Help: "Schedule directory reloads",
		},
		[]string{"result"},
	)

	// Retention metrics
	EventsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restwell_events_pruned_total",
			Help: "Events deleted by the retention sweeper",
		},
		[]string{"stream"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PresenceTransitions,
		PresenceState,
		SignalsTotal,
		SignalsDropped,
		QueryDuration,
		RemindersDispatched,
		ScheduleReloads,
		EventsPruned,
	)
}

// TimeQuery starts a QueryDuration observation; call the returned func when
// the query completes.
func TimeQuery(query string) func() {
	timer := prometheus.NewTimer(QueryDuration.WithLabelValues(query))
	return func() { timer.ObserveDuration() }
}

// SetPresenceState marks state as the only active presence state.
func SetPresenceState(states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		PresenceState.WithLabelValues(s).Set(v)
	}
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
