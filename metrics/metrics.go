// Package metrics exposes daemon counters through a Prometheus registry
// owned by the process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nntpchand"

type Metrics struct {
	Registry *prometheus.Registry

	articles      *prometheus.CounterVec
	connections   prometheus.Gauge
	commands      *prometheus.CounterVec
	offers        *prometheus.CounterVec
	knowledge     *prometheus.GaugeVec
	notifications *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles received, by source and outcome.",
		}, []string{"source", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open NNTP connections.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "NNTP commands handled, by command.",
		}, []string{"command"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_offers_total",
			Help:      "Peer exchanges, by peer, direction and result.",
		}, []string{"peer", "direction", "result"}),
		knowledge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_knowledge_ids",
			Help:      "Message-ids in each peer's knowledge set.",
		}, []string{"peer"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontend_notifications_total",
			Help:      "Frontend notifications, by frontend and result.",
		}, []string{"frontend", "result"}),
	}

	m.Registry.MustRegister(
		m.articles,
		m.connections,
		m.commands,
		m.offers,
		m.knowledge,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Article(source, outcome string) {
	if m == nil {
		return
	}
	m.articles.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) Offer(peer, direction, result string) {
	if m == nil {
		return
	}
	m.offers.WithLabelValues(peer, direction, result).Inc()
}

func (m *Metrics) KnowledgeSize(peer string, n int) {
	if m == nil {
		return
	}
	m.knowledge.WithLabelValues(peer).Set(float64(n))
}

func (m *Metrics) Notification(frontend, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(frontend, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
