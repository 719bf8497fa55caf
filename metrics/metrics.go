package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "feed_state", Help: "Ingestor state (0=disconnected 1=connecting 2=subscribed 3=streaming)"},
		[]string{"feed"},
	)
	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Ingestor reconnect attempts"},
		[]string{"feed", "reason"},
	)
	FramesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_frames_skipped_total", Help: "Malformed or unexpected frames"},
		[]string{"feed"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Momentum signals raised"},
		[]string{"asset", "direction"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisions_total", Help: "Signal outcomes in the decision loop"},
		[]string{"outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders dispatched by result"},
		[]string{"mode", "result"},
	)
	OrderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_latency_seconds",
			Help:    "Executor round trip",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(FeedState, FeedReconnects, FramesSkipped, SignalsTotal, DecisionsTotal, OrdersTotal, OrderLatency)
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("📊 Metrics endpoint up")
	return srv, nil
}
