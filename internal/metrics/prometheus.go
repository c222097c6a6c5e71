package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aravinth/pollkv/internal/store"
)

// ServerStats abstracts the server metrics we need. I use an interface
// here so the metrics package doesn't import the server package.
type ServerStats interface {
	ActiveConnections() int
	TotalConnections() uint64
}

// Collector implements prometheus.Collector by pulling current values
// from the store and server on each scrape. The event loop publishes
// everything through atomics, so a scrape never touches loop-owned state.
type Collector struct {
	store     *store.DB
	server    ServerStats
	startTime time.Time

	// Descriptors
	uptime        *prometheus.Desc
	connsTotal    *prometheus.Desc
	connsActive   *prometheus.Desc
	keysTotal     *prometheus.Desc
	storeOps      *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	cacheHitRatio *prometheus.Desc
	rehashing     *prometheus.Desc
}

// CommandCount and CommandDuration are registered directly (not via
// the custom Collector) because they're incremented in the hot path
// by Handler.Execute().
var (
	CommandCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pollkv",
			Name:      "commands_total",
			Help:      "Total number of commands processed, partitioned by command name.",
		},
		[]string{"cmd"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pollkv",
			Name:      "command_duration_seconds",
			Help:      "Command execution latency in seconds, partitioned by command name.",
			Buckets:   []float64{.000001, .000005, .00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"cmd"},
	)
)

// NewCollector creates a Collector that scrapes live stats. srv may be nil.
func NewCollector(db *store.DB, srv ServerStats, startTime time.Time) *Collector {
	ns := "pollkv"
	return &Collector{
		store:     db,
		server:    srv,
		startTime: startTime,

		uptime:        prometheus.NewDesc(ns+"_uptime_seconds", "Seconds since server start.", nil, nil),
		connsTotal:    prometheus.NewDesc(ns+"_connections_total", "Total connections accepted since startup.", nil, nil),
		connsActive:   prometheus.NewDesc(ns+"_connections_active", "Currently connected clients.", nil, nil),
		keysTotal:     prometheus.NewDesc(ns+"_keys_total", "Number of keys, partitioned by index.", []string{"index"}, nil),
		storeOps:      prometheus.NewDesc(ns+"_store_ops_total", "Total store-level operations.", []string{"op"}, nil),
		cacheHits:     prometheus.NewDesc(ns+"_lookup_hits_total", "Total lookups that found their key.", nil, nil),
		cacheMisses:   prometheus.NewDesc(ns+"_lookup_misses_total", "Total lookups that missed.", nil, nil),
		cacheHitRatio: prometheus.NewDesc(ns+"_lookup_hit_ratio", "Lookup hit ratio (0.0 to 1.0).", nil, nil),
		rehashing:     prometheus.NewDesc(ns+"_hash_rehash_in_progress", "Whether the hash index is migrating to a larger table (1 or 0).", nil, nil),
	}
}

// Describe sends all descriptor definitions to the channel.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.connsTotal
	ch <- c.connsActive
	ch <- c.keysTotal
	ch <- c.storeOps
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheHitRatio
	ch <- c.rehashing
}

// Collect pulls current values from each subsystem and sends them
// as Prometheus metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	if c.server != nil {
		ch <- prometheus.MustNewConstMetric(c.connsTotal, prometheus.GaugeValue, float64(c.server.TotalConnections()))
		ch <- prometheus.MustNewConstMetric(c.connsActive, prometheus.GaugeValue, float64(c.server.ActiveConnections()))
	}

	if c.store != nil {
		m := c.store.GetMetrics()
		ch <- prometheus.MustNewConstMetric(c.keysTotal, prometheus.GaugeValue, float64(m["hash_keys"]), "hash")
		ch <- prometheus.MustNewConstMetric(c.keysTotal, prometheus.GaugeValue, float64(m["tree_keys"]), "avl")
		ch <- prometheus.MustNewConstMetric(c.storeOps, prometheus.GaugeValue, float64(m["gets"]), "get")
		ch <- prometheus.MustNewConstMetric(c.storeOps, prometheus.GaugeValue, float64(m["sets"]), "set")
		ch <- prometheus.MustNewConstMetric(c.storeOps, prometheus.GaugeValue, float64(m["deletes"]), "delete")
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.GaugeValue, float64(m["hits"]))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.GaugeValue, float64(m["misses"]))
		ch <- prometheus.MustNewConstMetric(c.cacheHitRatio, prometheus.GaugeValue, c.store.HitRatio())

		rehashing := 0.0
		if c.store.Metrics().Rehashing.Load() {
			rehashing = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.rehashing, prometheus.GaugeValue, rehashing)
	}
}

// Register registers the custom collector and the command-level
// metrics with Prometheus's default registry.
func Register(c *Collector) {
	prometheus.MustRegister(c)
	prometheus.MustRegister(CommandCount)
	prometheus.MustRegister(CommandDuration)
}
