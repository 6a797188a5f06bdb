package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using
// Prometheus metrics.
type PrometheusCollector struct {
	commandsTotal      *prometheus.CounterVec
	authAttemptsTotal  *prometheus.CounterVec
	messagesTotal      prometheus.Counter
	messageSizeBytes   prometheus.Histogram
	recipientsPerSend  prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	notificationWait   prometheus.Histogram
	scenariosTotal     *prometheus.CounterVec
	scenarioDuration   *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all
// metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailprobe_commands_total",
			Help: "Total number of protocol commands sent.",
		}, []string{"proto", "command"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailprobe_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"proto", "result"}),

		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailprobe_messages_submitted_total",
			Help: "Total number of messages submitted.",
		}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailprobe_message_size_bytes",
			Help:    "Size of submitted messages in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		recipientsPerSend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailprobe_recipients_per_submission",
			Help:    "Number of envelope recipients per submission.",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),

		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailprobe_notifications_observed_total",
			Help: "Total number of IDLE mailbox-change notifications observed.",
		}, []string{"mailbox"}),
		notificationWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailprobe_notification_wait_seconds",
			Help:    "Time spent in IDLE before a notification arrived.",
			Buckets: prometheus.DefBuckets,
		}),

		scenariosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailprobe_scenarios_total",
			Help: "Total number of scenario runs.",
		}, []string{"scenario", "result"}),
		scenarioDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailprobe_scenario_duration_seconds",
			Help:    "Wall-clock duration of scenario runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"scenario"}),
	}

	reg.MustRegister(
		c.commandsTotal,
		c.authAttemptsTotal,
		c.messagesTotal,
		c.messageSizeBytes,
		c.recipientsPerSend,
		c.notificationsTotal,
		c.notificationWait,
		c.scenariosTotal,
		c.scenarioDuration,
	)
	return c
}

func (c *PrometheusCollector) CommandSent(proto string, command string) {
	c.commandsTotal.WithLabelValues(proto, command).Inc()
}

func (c *PrometheusCollector) AuthAttempt(proto string, success bool) {
	c.authAttemptsTotal.WithLabelValues(proto, strconv.FormatBool(success)).Inc()
}

func (c *PrometheusCollector) MessageSubmitted(recipients int, sizeBytes int64) {
	c.messagesTotal.Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
	c.recipientsPerSend.Observe(float64(recipients))
}

func (c *PrometheusCollector) NotificationObserved(mailbox string, waited time.Duration) {
	c.notificationsTotal.WithLabelValues(mailbox).Inc()
	c.notificationWait.Observe(waited.Seconds())
}

func (c *PrometheusCollector) ScenarioCompleted(name string, success bool, elapsed time.Duration) {
	result := "fail"
	if success {
		result = "pass"
	}
	c.scenariosTotal.WithLabelValues(name, result).Inc()
	c.scenarioDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// HTTPServer exposes a Prometheus registry over HTTP.
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer creates a metrics server listening on addr, serving
// the given gatherer at /metrics.
func NewHTTPServer(addr string, gatherer prometheus.Gatherer) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &HTTPServer{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving metrics until the context is canceled.
func (s *HTTPServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
