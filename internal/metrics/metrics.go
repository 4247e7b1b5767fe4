// Package metrics exposes prometheus collectors for vault activity and the
// HTTP surface. Vault figures are fed from the event log so the engine never
// imports this package.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/xvault/internal/events"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "xvault"

var unitScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Collector owns a prometheus registry with the vault and HTTP collectors.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	items      *prometheus.CounterVec
	fees       *prometheus.CounterVec
	bounties   prometheus.Counter
	reserve    *prometheus.GaugeVec
	deposits   prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a collector under namespace (DefaultNamespace when
// empty). Process and Go runtime collectors are registered too.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}
	c.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "events_total",
		Help:      "Vault events by type.",
	}, []string{"type"})
	c.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "failures_total",
		Help:      "Rejected vault operations by operation and error code.",
	}, []string{"operation", "code"})
	c.items = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "items_moved_total",
		Help:      "Items deposited or withdrawn, by direction.",
	}, []string{"direction"})
	c.fees = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "fees_collected_units_total",
		Help:      "Fees credited to vault reserves, in whole native units.",
	}, []string{"type"})
	c.bounties = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "bounties_paid_units_total",
		Help:      "Supplier bounties paid out of vault reserves, in whole native units.",
	})
	c.reserve = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "reserve_units",
		Help:      "Current reserve balance per vault, in whole native units.",
	}, []string{"vault"})
	c.deposits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "reserve_deposits_units_total",
		Help:      "Direct reserve top-ups, in whole native units.",
	})
	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})
	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})
	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"method", "path"})

	c.registry.MustRegister(
		c.operations,
		c.failures,
		c.items,
		c.fees,
		c.bounties,
		c.reserve,
		c.deposits,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the collector to rb and returns the unsubscribe func.
func (c *Collector) Attach(rb *events.RingBuffer) func() {
	return rb.Subscribe(c.Observe)
}

// Observe folds a vault event into the collectors.
func (c *Collector) Observe(e events.Event) {
	c.operations.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case events.EventOperationFailed:
		code := e.Error
		if code == "" {
			code = "unknown"
		}
		c.failures.WithLabelValues(e.Operation, code).Inc()
		return
	case events.EventMinted:
		c.items.WithLabelValues("in").Add(float64(len(e.Items)))
		c.addUnits(c.fees.WithLabelValues("mint"), e.Fee)
		c.addUnits(c.bounties, e.Bounty)
	case events.EventRedeemed:
		c.items.WithLabelValues("out").Add(float64(len(e.Items)))
		c.addUnits(c.fees.WithLabelValues("burn"), e.Fee)
		c.addUnits(c.bounties, e.Bounty)
	case events.EventSwapped:
		c.items.WithLabelValues("in").Add(float64(len(e.Items)))
		c.items.WithLabelValues("out").Add(float64(len(e.Items)))
		c.addUnits(c.fees.WithLabelValues("dual"), e.Fee)
	case events.EventMintApproved:
		c.items.WithLabelValues("in").Add(float64(len(e.Items)))
	case events.EventReserveDeposited:
		c.addUnits(c.deposits, e.Amount)
	}

	if e.Reserve != "" {
		if v, ok := units(e.Reserve); ok {
			c.reserve.WithLabelValues(strconv.FormatUint(e.VaultID, 10)).Set(v)
		}
	}
}

type adder interface {
	Add(float64)
}

func (c *Collector) addUnits(m adder, amount string) {
	v, ok := units(amount)
	if !ok || v <= 0 {
		return
	}
	m.Add(v)
}

// units converts a decimal base-unit string to whole units.
func units(amount string) (float64, bool) {
	if amount == "" {
		return 0, false
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0, false
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), unitScale).Float64()
	return f, true
}

// IncInFlight marks an HTTP request as started.
func (c *Collector) IncInFlight() {
	c.httpInFlight.Inc()
}

// DecInFlight marks an HTTP request as finished.
func (c *Collector) DecInFlight() {
	c.httpInFlight.Dec()
}

// RecordHTTPRequest records a finished HTTP request. path should be a route
// template so label cardinality stays bounded.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "/"
	}
	method = strings.ToUpper(method)
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
