package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)

	clientConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_client_connection_status",
			Help: "1 for the current status of the client room connection, 0 otherwise.",
		},
		[]string{"status"},
	)
	clientReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_reconnects_total",
			Help: "Total number of scheduled reconnect attempts.",
		},
	)
	clientMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_messages_sent_total",
			Help: "Total number of messages handed to a transport.",
		},
		[]string{"transport"},
	)
	clientSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_send_failures_total",
			Help: "Total number of failed message sends.",
		},
		[]string{"transport"},
	)
	clientProtocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_protocol_errors_total",
			Help: "Total number of malformed or unknown frames dropped.",
		},
	)
	clientTypingDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_typing_dropped_total",
			Help: "Typing events dropped because no transport could carry them.",
		},
	)
	clientMarkReadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_mark_read_failures_total",
			Help: "Mark-read calls that failed after the unread count was cleared.",
		},
	)
	clientAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_api_calls_total",
			Help: "Collaborator API calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	clientAPICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_api_call_duration_seconds",
			Help:    "Collaborator API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

var connectionStatuses = []string{"closed", "connecting", "open", "error", "disconnected"}

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		clientConnectionStatus,
		clientReconnectsTotal,
		clientMessagesSentTotal,
		clientSendFailuresTotal,
		clientProtocolErrorsTotal,
		clientTypingDroppedTotal,
		clientMarkReadFailuresTotal,
		clientAPICallsTotal,
		clientAPICallDuration,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// SetConnectionStatus flags status as the current client connection status.
func SetConnectionStatus(status string) {
	for _, s := range connectionStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		clientConnectionStatus.WithLabelValues(s).Set(value)
	}
}

func IncReconnect() {
	clientReconnectsTotal.Inc()
}

func IncMessageSent(transport string) {
	clientMessagesSentTotal.WithLabelValues(transport).Inc()
}

func IncSendFailure(transport string) {
	clientSendFailuresTotal.WithLabelValues(transport).Inc()
}

func IncProtocolError() {
	clientProtocolErrorsTotal.Inc()
}

func IncTypingDropped() {
	clientTypingDroppedTotal.Inc()
}

func IncMarkReadFailure() {
	clientMarkReadFailuresTotal.Inc()
}

// ObserveAPICall records the outcome and latency of a collaborator call.
func ObserveAPICall(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	clientAPICallsTotal.WithLabelValues(op, outcome).Inc()
	clientAPICallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
