package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferdipret/cred-task/board"
)

const (
	tracerName       = "github.com/ferdipret/cred-task/api"
	requestSpanName  = "board.request"
	requestEventName = "board.request.metrics"
	metricsSubsystem = "taskboard"
)

// Metrics holds the board's Prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	streams    prometheus.Gauge
}

// NewMetrics creates and registers the board collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Board operations by name and whether they changed the board.",
		}, []string{"operation", "applied"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "stream_clients",
			Help:      "Connected board stream clients.",
		}),
	}
	reg.MustRegister(m.operations, m.streams)
	return m
}

// ObserveOperation counts an engine operation. It matches board.Observer.
func (m *Metrics) ObserveOperation(op board.Operation, applied bool) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(op), strconv.FormatBool(applied)).Inc()
}

func (m *Metrics) streamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *Metrics) streamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

// Instrument adds HTTP request metrics and serves them on /metrics.
func Instrument(e *echo.Echo, reg *prometheus.Registry) {
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  metricsSubsystem,
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/stream"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
}

// requestMetrics wraps each request in a span and emits one structured log
// event with its outcome.
func requestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx, span := otel.Tracer(tracerName).Start(req.Context(), requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			totalMS := durationToMillis(time.Since(start))
			severityText, severityNumber := severityForStatus(status, err)

			attrs := []attribute.KeyValue{
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
				attribute.Float64("board.request.total_ms", totalMS),
				attribute.String("severity_text", severityText),
			}
			if err != nil {
				attrs = append(attrs, attribute.String("error.message", err.Error()))
			}
			span.SetAttributes(attrs...)
			span.AddEvent(requestEventName, trace.WithAttributes(attrs...))
			if status >= http.StatusInternalServerError || err != nil {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			if logger != nil {
				fields := log.Fields{
					"route":           route,
					"method":          req.Method,
					"status":          status,
					"total_ms":        totalMS,
					"severity_text":   severityText,
					"severity_number": severityNumber,
				}
				if sc := span.SpanContext(); sc.HasTraceID() {
					fields["trace_id"] = sc.TraceID().String()
				}
				if err != nil {
					fields["error"] = err.Error()
				}
				logger.WithFields(fields).Log(levelForSeverity(severityNumber), requestEventName)
			}
			return nil
		}
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(number int) log.Level {
	switch {
	case number >= 17:
		return log.ErrorLevel
	case number >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
