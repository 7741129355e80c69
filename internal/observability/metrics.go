package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "linker"

// ReadinessChecker reports whether a dependency is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Linkage runs
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LinkagesProduced prometheus.Counter
	AssetsProcessed  *prometheus.CounterVec
	RatiosComputed   *prometheus.CounterVec

	// Time series
	TimeseriesFetchDuration *prometheus.HistogramVec

	// Ingest
	EventsIngested *prometheus.CounterVec

	// Kafka
	KafkaMessagesConsumed  *prometheus.CounterVec
	KafkaMessagesPublished *prometheus.CounterVec
	KafkaConsumerErrors    *prometheus.CounterVec
	KafkaConsumerRunning   *prometheus.GaugeVec
	KafkaBatchSize         *prometheus.HistogramVec
	KafkaBatchDuration     *prometheus.HistogramVec

	// Database
	DBQueryDuration   *prometheus.HistogramVec
	DBPoolConnections *prometheus.GaugeVec
}

// NewMetrics creates and registers all application metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewTestMetrics creates metrics backed by a throw-away registry.
// Safe to call from multiple tests without duplicate-registration panics.
func NewTestMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"method", "path"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Linkage runs by outcome.",
		}, []string{"status"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a linkage run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),

		LinkagesProduced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "linkages_produced_total",
			Help:      "Asset to weather event linkages produced.",
		}),

		AssetsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_processed_total",
			Help:      "Assets processed by result (linked, skipped, failed).",
		}, []string{"result"}),

		RatiosComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "performance_ratios_total",
			Help:      "Performance ratios computed by baseline status.",
		}, []string{"status"}),

		TimeseriesFetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "timeseries_fetch_duration_seconds",
			Help:      "Time series fetch duration including retries.",
			Buckets:   latencyBuckets,
		}, []string{"source", "result"}),

		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Weather events ingested by source.",
		}, []string{"source"}),

		KafkaMessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Total Kafka messages consumed.",
		}, []string{"topic"}),

		KafkaMessagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_published_total",
			Help:      "Total weather events published to Kafka.",
		}, []string{"topic"}),

		KafkaConsumerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consumer_errors_total",
			Help:      "Total Kafka consumer errors.",
		}, []string{"topic", "error_type"}),

		KafkaConsumerRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kafka_consumer_running",
			Help:      "Whether the Kafka consumer is running (1) or stopped (0).",
		}, []string{"topic"}),

		KafkaBatchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_batch_size",
			Help:      "Messages per fetched batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}, []string{"topic"}),

		KafkaBatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_batch_duration_seconds",
			Help:      "Batch fetch and process duration.",
			Buckets:   latencyBuckets,
		}, []string{"topic", "phase"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"operation"}),

		DBPoolConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Database connection pool statistics.",
		}, []string{"state"}),
	}
}
