package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	blocksProcessed   prometheus.Counter
	peepsIndexed      *prometheus.CounterVec
	peepsRejected     prometheus.Counter
	peepsDuplicate    prometheus.Counter
	ipfsNotFound      prometheus.Counter
	notificationsSent prometheus.Counter
	notificationsDrop prometheus.Counter
	errors            prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return metrics
}

// NewWithRegistry builds metrics registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewUnregistered builds metrics without touching the default registry.
func NewUnregistered() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_blocks_processed_total",
			Help: "Total number of blocks scanned",
		}),
		peepsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peep_indexer_peeps_indexed_total",
			Help: "Total number of peeps persisted, by variant",
		}, []string{"variant"}),
		peepsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_peeps_rejected_total",
			Help: "Total number of payloads rejected for an unexpected type",
		}),
		peepsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_peeps_duplicate_total",
			Help: "Total number of calls ignored because the hash was already indexed",
		}),
		ipfsNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_ipfs_not_found_total",
			Help: "Total number of hashes that could not be resolved",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_notifications_sent_total",
			Help: "Total number of notifications delivered to sinks",
		}),
		notificationsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_notifications_dropped_total",
			Help: "Total number of notifications dropped (dedupe or sink failure)",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peep_indexer_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.blocksProcessed,
		m.peepsIndexed,
		m.peepsRejected,
		m.peepsDuplicate,
		m.ipfsNotFound,
		m.notificationsSent,
		m.notificationsDrop,
		m.errors,
	}
}

// BlocksProcessed increments the blocks processed counter.
func (m *Metrics) BlocksProcessed() {
	if m != nil {
		m.blocksProcessed.Inc()
	}
}

// PeepIndexed increments the indexed counter for a variant.
func (m *Metrics) PeepIndexed(variant string) {
	if m != nil {
		m.peepsIndexed.WithLabelValues(variant).Inc()
	}
}

func (m *Metrics) PeepRejected() {
	if m != nil {
		m.peepsRejected.Inc()
	}
}

func (m *Metrics) PeepDuplicate() {
	if m != nil {
		m.peepsDuplicate.Inc()
	}
}

func (m *Metrics) IPFSNotFound() {
	if m != nil {
		m.ipfsNotFound.Inc()
	}
}

func (m *Metrics) NotificationSent() {
	if m != nil {
		m.notificationsSent.Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.notificationsDrop.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
