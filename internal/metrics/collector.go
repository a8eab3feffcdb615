// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 同时实现 round.Observer，编排器的事件直接落到 Prometheus 指标上
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 轮次指标
	roundsStarted         prometheus.Counter
	commandsIssued        *prometheus.CounterVec
	participantsCompleted *prometheus.CounterVec
	searchesFinished      *prometheus.CounterVec
	synthesesFinished     *prometheus.CounterVec
	synthesisCoercions    prometheus.Counter
	reconnects            *prometheus.CounterVec
	activeSessions        prometheus.Gauge

	// 协作方指标
	collaboratorCalls    *prometheus.CounterVec
	collaboratorDuration *prometheus.HistogramVec
	tokensUsed           *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

var _ round.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器
// reg 为 nil 时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 轮次指标
	c.roundsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Total number of rounds opened by a user message",
		},
	)

	c.commandsIssued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_commands_issued_total",
			Help:      "Total number of commands issued by the orchestrator",
		},
		[]string{"kind"},
	)

	c.participantsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_completed_total",
			Help:      "Total number of participant completions by finish reason",
		},
		[]string{"reason"},
	)

	c.searchesFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_finished_total",
			Help:      "Total number of search phases reaching a terminal status",
		},
		[]string{"status", "timed_out"},
	)

	c.synthesesFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_finished_total",
			Help:      "Total number of synthesis records reaching a terminal status",
		},
		[]string{"status"},
	)

	c.synthesisCoercions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_coercions_total",
			Help:      "Total number of synthesis fields replaced by defaults",
		},
	)

	c.reconnects = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnects by recovery action",
		},
		[]string{"action"},
	)

	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of conversations held by the engine",
		},
	)

	// 协作方指标
	c.collaboratorCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of collaborator calls",
		},
		[]string{"collaborator", "status"},
	)

	c.collaboratorDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Collaborator call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"collaborator"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_tokens_used_total",
			Help:      "Total number of tokens used by participants",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔁 轮次指标记录（round.Observer）
// =============================================================================

// RoundStarted 实现 round.Observer
func (c *Collector) RoundStarted(string, int) {
	c.roundsStarted.Inc()
}

// CommandIssued 实现 round.Observer
func (c *Collector) CommandIssued(kind round.CommandKind) {
	c.commandsIssued.WithLabelValues(kind.String()).Inc()
}

// ParticipantCompleted 实现 round.Observer
func (c *Collector) ParticipantCompleted(reason types.FinishReason) {
	c.participantsCompleted.WithLabelValues(string(reason)).Inc()
}

// SearchFinished 实现 round.Observer
func (c *Collector) SearchFinished(status round.Status, timedOut bool) {
	c.searchesFinished.WithLabelValues(string(status), strconv.FormatBool(timedOut)).Inc()
}

// SynthesisFinished 实现 round.Observer
func (c *Collector) SynthesisFinished(status round.Status, coercions int) {
	c.synthesesFinished.WithLabelValues(string(status)).Inc()
	c.synthesisCoercions.Add(float64(coercions))
}

// Reconnected 实现 round.Observer
func (c *Collector) Reconnected(action round.Action) {
	c.reconnects.WithLabelValues(action.String()).Inc()
}

// SetActiveSessions 记录引擎持有的会话数
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// =============================================================================
// 🤝 协作方指标记录
// =============================================================================

// RecordCollaboratorCall 记录一次协作方调用（search / synthesis / stream）
func (c *Collector) RecordCollaboratorCall(collaborator string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.collaboratorCalls.WithLabelValues(collaborator, status).Inc()
	c.collaboratorDuration.WithLabelValues(collaborator).Observe(duration.Seconds())
}

// RecordTokens 记录参与者 Token 用量
func (c *Collector) RecordTokens(model string, usage types.Usage) {
	c.tokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	c.tokensUsed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
