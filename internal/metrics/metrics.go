package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors served on /metrics.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Subsystem: "auth",
			Name:      "sessions_cleaned_total",
			Help:      "Expired sessions removed by background cleanup.",
		},
	)

	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup runs by result (success, error, skipped).",
		},
		[]string{"result"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions.",
		},
		[]string{"job", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		logins,
		sessionsCleaned,
		backups,
		jobRuns,
	)
}

// Middleware records request counts and latencies. The route pattern is
// used as the path label to keep cardinality bounded.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		path := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			path = r.Path
		}
		method := c.Method()
		httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

func ObserveLogin(outcome string) {
	logins.WithLabelValues(outcome).Inc()
}

func SessionsCleaned(n int64) {
	if n > 0 {
		sessionsCleaned.Add(float64(n))
	}
}

func ObserveBackup(result string) {
	backups.WithLabelValues(result).Inc()
}

func ObserveJob(job string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	jobRuns.WithLabelValues(job, result).Inc()
}
