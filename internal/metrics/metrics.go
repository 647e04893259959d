// Package metrics exposes signer command counters over Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trtl-signer/internal/status"
)

const namespace = "trtl_signer"

// Metrics holds the signer collectors
type Metrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	confirmations    *prometheus.CounterVec
	transactionState prometheus.Gauge
}

// New registers the signer collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Count of processed commands by result.",
		}, []string{"command", "status"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of processed commands, including confirmation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Count of confirmation prompts by decision.",
		}, []string{"command", "decision"}),
		transactionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tx_state",
			Help:      "Numeric state of the transaction under construction.",
		}),
	}
}

// Observe records one processed command
func (m *Metrics) Observe(command string, code status.Code, started time.Time) {
	if m == nil {
		return
	}
	if command == "" {
		command = "unknown"
	}
	m.commandsTotal.WithLabelValues(command, code.Label()).Inc()
	m.commandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

// ObserveConfirmation records the operator's decision on a prompt
func (m *Metrics) ObserveConfirmation(command, decision string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(command, decision).Inc()
}

// SetTxState records the transaction state
func (m *Metrics) SetTxState(state byte) {
	if m == nil {
		return
	}
	m.transactionState.Set(float64(state))
}

// Server serves /metrics from gatherer
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP endpoint on addr
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Serve listens until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.srv.Shutdown(context.Background())
	}()
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
