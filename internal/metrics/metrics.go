// Package metrics exposes grid state and HTTP traffic to Prometheus
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
)

// StateSource returns the current grid view
type StateSource interface {
	State(ctx context.Context) (grid.State, error)
}

var (
	upDesc = prometheus.NewDesc(
		"streamgrid_up", "Whether the grid controller answered the last scrape.", nil, nil,
	)
	scrapeDurationDesc = prometheus.NewDesc(
		"streamgrid_scrape_duration_seconds", "Time taken to read the grid state.", nil, nil,
	)
	camerasDesc = prometheus.NewDesc(
		"streamgrid_cameras", "Cameras grouped by stream state.", []string{"state"}, nil,
	)
	cameraConnectedDesc = prometheus.NewDesc(
		"streamgrid_camera_connected", "Whether a camera's stream is connected.", []string{"id", "title"}, nil,
	)
	cameraMotionDesc = prometheus.NewDesc(
		"streamgrid_camera_motion_detected", "Whether motion is currently flagged on a camera.", []string{"id"}, nil,
	)
	cameraAlertsDesc = prometheus.NewDesc(
		"streamgrid_camera_alerts", "Alerts held in a camera's log.", []string{"id"}, nil,
	)
	liveDesc = prometheus.NewDesc(
		"streamgrid_live", "1 in live mode, 0 in playback.", nil, nil,
	)
	editingDesc = prometheus.NewDesc(
		"streamgrid_editing", "1 while an edit session is open.", nil, nil,
	)
	layoutDesc = prometheus.NewDesc(
		"streamgrid_layout_info", "Active layout mode.", []string{"mode"}, nil,
	)
	visibleDesc = prometheus.NewDesc(
		"streamgrid_visible_cameras", "Cameras the active layout shows.", nil, nil,
	)
)

// MountSource lists the cameras some client has a video element for
type MountSource interface {
	Mounted() []string
}

// Collector reads the grid state on every scrape
type Collector struct {
	source  StateSource
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewCollector creates a collector over source
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source:  source,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "metrics"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- upDesc
	ch <- scrapeDurationDesc
	ch <- camerasDesc
	ch <- cameraConnectedDesc
	ch <- cameraMotionDesc
	ch <- cameraAlertsDesc
	ch <- liveDesc
	ch <- editingDesc
	ch <- layoutDesc
	ch <- visibleDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	s, err := c.source.State(ctx)
	ch <- prometheus.MustNewConstMetric(scrapeDurationDesc, prometheus.GaugeValue, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("Failed to read grid state", "error", err)
		ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, 1)

	counts := map[string]float64{"connected": 0, "loading": 0, "idle": 0}
	for _, cam := range s.Cameras {
		switch {
		case cam.IsLoading:
			counts["loading"]++
		case cam.IsConnected:
			counts["connected"]++
		default:
			counts["idle"]++
		}

		ch <- prometheus.MustNewConstMetric(cameraConnectedDesc, prometheus.GaugeValue, boolValue(cam.IsConnected), cam.ID, cam.Title)
		ch <- prometheus.MustNewConstMetric(cameraMotionDesc, prometheus.GaugeValue, boolValue(cam.MotionDetected), cam.ID)
		ch <- prometheus.MustNewConstMetric(cameraAlertsDesc, prometheus.GaugeValue, float64(len(cam.Alerts)), cam.ID)
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(camerasDesc, prometheus.GaugeValue, n, state)
	}

	ch <- prometheus.MustNewConstMetric(liveDesc, prometheus.GaugeValue, boolValue(s.Live))
	ch <- prometheus.MustNewConstMetric(editingDesc, prometheus.GaugeValue, boolValue(s.Editing))
	ch <- prometheus.MustNewConstMetric(layoutDesc, prometheus.GaugeValue, 1, string(s.Layout.Mode))
	ch <- prometheus.MustNewConstMetric(visibleDesc, prometheus.GaugeValue, float64(s.Visible))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Metrics owns the registry served at /metrics
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers a grid collector over source and the HTTP request metrics
func New(source StateSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgrid_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgrid_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if source != nil {
		m.registry.MustRegister(NewCollector(source))
	}
	m.registry.MustRegister(m.requests, m.duration)
	return m
}

// WatchMounts exports how many cameras have a mounted render target
func (m *Metrics) WatchMounts(src MountSource) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "streamgrid_mounted_cameras",
		Help: "Cameras with at least one mounted video element.",
	}, func() float64 {
		return float64(len(src.Mounted()))
	}))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request under its chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
