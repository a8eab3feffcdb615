package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/roundflow/api/handlers"
	"github.com/BaSui01/roundflow/config"
	"github.com/BaSui01/roundflow/internal/collab"
	"github.com/BaSui01/roundflow/internal/database"
	"github.com/BaSui01/roundflow/internal/metrics"
	"github.com/BaSui01/roundflow/internal/server"
	"github.com/BaSui01/roundflow/internal/store"
	"github.com/BaSui01/roundflow/internal/streamstate"
	"github.com/BaSui01/roundflow/internal/telemetry"
	"github.com/BaSui01/roundflow/internal/usage"
	"github.com/BaSui01/roundflow/round/runtime"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装轮次引擎、协作方客户端与 HTTP 服务
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers

	registry  *prometheus.Registry
	collector *metrics.Collector

	engine        *runtime.Engine
	pool          *database.PoolManager
	healthHandler *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 关闭时按注册的逆序调用
	closers []func() error
}

// NewServer 创建服务器并初始化全部依赖；失败时已打开的资源会被释放
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
		registry:  prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("roundflow", s.registry, logger)
	s.healthHandler = handlers.NewHealthHandler(Version, logger)

	if err := s.initEngine(ctx); err != nil {
		s.close()
		return nil, err
	}
	s.initHTTP()
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initEngine(ctx context.Context) error {
	orch := s.cfg.Orchestrator
	collabs := s.cfg.Collaborators

	if collabs.StreamURL == "" {
		return fmt.Errorf("collaborators.stream_url is required")
	}
	retry := collab.DefaultRetryConfig()
	httpOpts := []collab.Option{collab.WithRetry(retry), collab.WithLogger(s.logger)}

	deps := runtime.Dependencies{
		Streamer: collab.NewStreamClient(collabs.StreamURL, collabs.APIKey, s.logger).WithRetry(retry),
		Metrics:  s.collector,
		Observer: s.collector,
		NewID:    uuid.NewString,
	}
	if collabs.SearchURL != "" {
		deps.Search = collab.NewSearchClient(collabs.SearchURL, collabs.APIKey, httpOpts...)
	} else {
		s.logger.Warn("search service not configured, search-enabled rounds will degrade")
	}
	if collabs.SynthesisURL != "" {
		deps.Synthesis = collab.NewSynthesisClient(collabs.SynthesisURL, collabs.APIKey, httpOpts...)
	} else {
		s.logger.Warn("synthesis service not configured, synthesis records will fail")
	}

	// 消息存储：数据库优先，其次远端消息服务
	switch {
	case orch.PersistMessages:
		st, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		deps.Messages = st
	case collabs.MessagesURL != "":
		deps.Messages = collab.NewMessageClient(collabs.MessagesURL, collabs.APIKey, httpOpts...)
	}

	// 流描述符存储
	switch orch.DescriptorStore {
	case "redis":
		rs, err := streamstate.NewRedisStore(s.cfg.Redis, orch.DescriptorTTL, s.logger)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, rs.Close)
		s.healthHandler.RegisterCheck(handlers.NewCheck("redis", rs.Ping))
		deps.Descriptors = rs
	default:
		ms := streamstate.NewMemoryStore(orch.DescriptorTTL, orch.DescriptorTTL/4, s.logger)
		s.closers = append(s.closers, ms.Close)
		deps.Descriptors = ms
	}

	if s.cfg.Usage.Backfill {
		deps.Usage = usage.NewEstimator(s.cfg.Usage.Encoding, s.logger)
	}

	engine, err := runtime.NewEngine(runtime.ConfigFrom(orch, s.cfg.ParticipantList()), deps, s.logger)
	if err != nil {
		return err
	}
	s.engine = engine
	s.healthHandler.RegisterCheck(handlers.NewCheck("engine", func(context.Context) error {
		return engine.Ping()
	}))

	s.logger.Info("round engine initialized",
		zap.Int("participants", len(s.cfg.Participants)),
		zap.String("descriptor_store", orch.DescriptorStore),
		zap.Bool("persist_messages", orch.PersistMessages),
		zap.Bool("search", deps.Search != nil),
		zap.Bool("synthesis", deps.Synthesis != nil),
	)
	return nil
}

// openStore 打开数据库、启动连接池巡检并迁移表结构
func (s *Server) openStore(ctx context.Context) (*store.Store, error) {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger)
	if err != nil {
		return nil, err
	}
	driver := s.cfg.Database.Driver
	pool.ReportStats(func(st database.PoolStats) {
		s.collector.RecordDBConnections(driver, st.OpenConnections, st.Idle)
	})
	pool.Start()
	s.pool = pool
	s.closers = append(s.closers, pool.Close)
	s.healthHandler.RegisterCheck(handlers.NewCheck("database", pool.Ping))

	st := store.New(pool.DB(), s.logger).WithQueryObserver(func(op string, d time.Duration) {
		s.collector.RecordDBQuery(driver, op, d)
	}).WithTransactions(pool, store.DefaultWriteRetries)
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// initHTTP 构建 API 与 metrics 两个 HTTP 服务
func (s *Server) initHTTP() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	handlers.NewRoundHandler(s.engine, websocketOrigins(s.cfg.Server.CORSAllowedOrigins), s.logger).Register(mux)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.closers = append(s.closers, func() error { cancel(); return nil })

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)
	s.httpManager = server.NewManager("api", handler, server.FromServerConfig(s.cfg.Server.HTTPPort, s.cfg.Server), s.logger)

	if s.cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.metricsManager = server.NewManager("metrics", metricsMux, server.FromServerConfig(s.cfg.Server.MetricsPort, s.cfg.Server), s.logger)
	}
}

// websocketOrigins 将 CORS 来源转换为 WebSocket Origin 模式（去掉协议前缀）
func websocketOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 运行引擎看门狗与 HTTP 服务，直到 ctx 取消或任一服务失败
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.shutdown()
	return err
}

// shutdown 等待进行中的协作方调用，然后释放资源
func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.engine.Close(ctx); err != nil {
		s.logger.Error("round engine shutdown error", zap.Error(err))
	}
	s.close()
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close resource", zap.Error(err))
		}
	}
	s.closers = nil
}
