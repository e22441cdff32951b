package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the API and the chat core report.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	ObserveGeneration(provider, outcome string, durationSeconds float64)
	AddSessionsPurged(n int64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) ObserveGeneration(string, string, float64)      {}
func (Noop) AddSessionsPurged(int64)                        {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	generations     *prometheus.CounterVec
	genDuration     *prometheus.HistogramVec
	purged          prometheus.Counter
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Provider generation calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		genDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Provider generation latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"provider"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_purged_total",
			Help:      "Sessions deleted by the expiry sweep",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.requests, p.requestDuration, p.generations, p.genDuration, p.purged)
	})
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) ObserveGeneration(provider, outcome string, durationSeconds float64) {
	p.generations.WithLabelValues(provider, outcome).Inc()
	p.genDuration.WithLabelValues(provider).Observe(durationSeconds)
}

func (p *Prom) AddSessionsPurged(n int64) {
	if n > 0 {
		p.purged.Add(float64(n))
	}
}

// Handler exposes the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
