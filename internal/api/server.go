package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/api/middleware"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/dedup"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/queue"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"

	"github.com/gin-gonic/gin"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有快照存储、Redis 任务队列、去重器、结果落库的 worker 池以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	store   DetailStore
	tasks   TaskQueue
	deduper Deduper
	pool    *queue.Queue
}

// DetailStore 快照存储。
type DetailStore interface {
	SaveDetail(ctx context.Context, detail *model.FeedDetail) error
	GetDetail(ctx context.Context, feedID string) (*model.FeedDetail, error)
	Ping(ctx context.Context) error
}

// TaskQueue 与爬虫节点之间的任务/结果队列。
type TaskQueue interface {
	PushTask(ctx context.Context, task *model.DetailTask) error
	PopResult(ctx context.Context, timeout time.Duration) (*model.DetailResult, error)
	QueueDepth(ctx context.Context) (int64, int64, error)
	Ping(ctx context.Context) error
}

type Deduper interface {
	IsDuplicate(ctx context.Context, feedID string) (bool, error)
	Release(ctx context.Context, feedID string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 基于 Redis 创建请求去重器
// 2. 创建结果落库的 worker 池
// 3. 初始化 Gin 路由引擎
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//	st: 快照存储
//	redisQueue: Redis 任务队列
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 依赖缺失时返回错误
func NewServer(cfg *config.Config, logger *slog.Logger, st DetailStore, redisQueue *redisqueue.Client) (*Server, error) {
	if st == nil {
		return nil, errors.New("detail store is nil")
	}
	if redisQueue == nil {
		return nil, errors.New("redis queue client is nil")
	}
	deduper := dedup.NewDeduplicator(redisQueue.Redis(), time.Duration(cfg.App.DedupWindow)*time.Second)
	return newServer(cfg, logger, st, redisQueue, deduper), nil
}

func newServer(cfg *config.Config, logger *slog.Logger, st DetailStore, tasks TaskQueue, deduper Deduper) *Server {
	pool := queue.New(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	pool.OnError(func(job queue.Job, err error) {
		logger.Error("result job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()))
	})

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  r,
		store:   st,
		tasks:   tasks,
		deduper: deduper,
		pool:    pool,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动结果落库的 worker 池和结果监听器，ctx 取消后监听器退出。
func (s *Server) Start(ctx context.Context) {
	// worker 池独立于 ctx，关闭时由 Close 排空
	s.pool.Start(context.Background())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in result listener", slog.Any("panic", r))
			}
		}()
		if err := s.StartResultListener(ctx); err != nil {
			s.logger.Error("result listener stopped", slog.String("error", err.Error()))
		}
	}()
}

// Close 等待已入队的结果落库完成。存储与 Redis 连接由调用方关闭。
func (s *Server) Close() error {
	err := s.pool.Shutdown(10 * time.Second)
	if errors.Is(err, queue.ErrQueueClosed) {
		return nil
	}
	return err
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	v1 := s.router.Group("/api/v1")
	v1.POST("/feeds/detail", s.handleCreateDetail)
	v1.GET("/feeds/:id", s.handleGetDetail)
	v1.POST("/feeds/:id/comments", s.handleCreateComment)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz: store unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.tasks.Ping(ctx); err != nil {
		s.logger.Warn("healthz: redis unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
