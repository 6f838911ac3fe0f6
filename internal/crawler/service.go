package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/ratelimit"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	rateLimitKey = "xhs:ratelimit:navigate"

	// 超时常量
	browserInitTimeout     = 30 * time.Second // 浏览器初始化超时
	browserHealthInterval  = 30 * time.Second // 浏览器健康检查间隔
	browserHealthTimeout   = 5 * time.Second  // 健康检查单次超时
	stuckTaskCheckInterval = 1 * time.Minute  // 卡住任务检查间隔
	stuckTaskRescueTimeout = 10 * time.Second // 卡住任务恢复超时
	watchdogGrace          = 30 * time.Second // 看门狗在任务超时之外的余量
	pageCreateTimeout      = 10 * time.Second // 页面创建超时
	pageCloseTimeout       = 5 * time.Second  // 页面关闭超时
	redisOperationTimeout  = 5 * time.Second  // Redis 操作超时
	popTaskTimeout         = 2 * time.Second  // 单次拉取任务的阻塞时间
)

// Service 负责浏览器调度与详情任务执行。
//
// 它维护了一个 rod.Browser 实例，并发控制由 StartWorker 中的信号量管理。
// 每个任务独占一个页面，任务结束时页面一定会被关闭。
type Service struct {
	browser     *rod.Browser
	cookies     []*proto.NetworkCookieParam
	rateLimiter *ratelimit.RateLimiter
	redisQueue  *redisqueue.Client
	logger      *slog.Logger
	cfg         *config.Config
	mu          sync.RWMutex

	openPage pageOpener
	newPacer func() Pacer

	pageTimeout time.Duration
	taskTimeout time.Duration
	taskCounter atomic.Uint64 // 用于触发 maxTasks 重启
	maxTasks    uint64
	restartCh   chan struct{}

	// 后台任务控制
	bgCtx    context.Context
	bgCancel context.CancelFunc

	stats crawlerStats
}

// crawlerStats 爬虫统计信息
type crawlerStats struct {
	TotalProcessed atomic.Int64
	TotalSucceeded atomic.Int64
	TotalFailed    atomic.Int64
	TotalPanics    atomic.Int64
}

// NewService 启动浏览器实例并创建服务。
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象，包含浏览器路径、并发数等设置
//	logger: 日志记录器
//	redisQueue: 任务队列，同时提供限流使用的 Redis 连接
//
// 返回值:
//
//	*Service: 初始化完成的服务实例
//	error: 如果浏览器启动失败则返回错误
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger, redisQueue *redisqueue.Client) (*Service, error) {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, cfg, logger)
	if err != nil {
		return nil, err
	}

	cookies, err := loadCookies(cfg.Browser.CookiesPath)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	if len(cookies) == 0 {
		logger.Warn("no cookies loaded, browsing as guest", slog.String("path", cfg.Browser.CookiesPath))
	}

	var limiter *ratelimit.RateLimiter
	if cfg.App.RateLimit > 0 && cfg.App.RateBurst > 0 {
		limiter = ratelimit.NewRedisRateLimiter(redisQueue.Redis(), logger, rateLimitKey, cfg.App.RateLimit, cfg.App.RateBurst)
		logger.Info("rate limiter enabled",
			slog.Float64("rate", cfg.App.RateLimit),
			slog.Float64("burst", cfg.App.RateBurst))
	}

	s := newService(cfg, logger, redisQueue, limiter)
	s.browser = browser
	s.cookies = cookies
	s.openPage = s.openRodPage

	logger.Info("crawler service initialized",
		slog.Int("max_concurrency", cfg.Browser.MaxConcurrency),
		slog.Int("cookies", len(cookies)))

	// 启动后台任务（使用独立的 bgCtx，由 Shutdown 控制停止）
	go s.startBrowserHealthCheck(s.bgCtx)
	go s.startStuckTaskCleanup(s.bgCtx)
	return s, nil
}

// newService 组装不依赖浏览器的部分，页面来源由调用方设置。
func newService(cfg *config.Config, logger *slog.Logger, redisQueue *redisqueue.Client, limiter *ratelimit.RateLimiter) *Service {
	pageTimeout := cfg.Browser.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}
	taskTimeout := cfg.App.TaskTimeout
	if taskTimeout < pageTimeout {
		taskTimeout = pageTimeout
	}
	maxTasks := uint64(0)
	if cfg.App.MaxTasks > 0 {
		maxTasks = uint64(cfg.App.MaxTasks)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Service{
		rateLimiter: limiter,
		redisQueue:  redisQueue,
		logger:      logger,
		cfg:         cfg,
		newPacer:    NewPacer,
		pageTimeout: pageTimeout,
		taskTimeout: taskTimeout,
		maxTasks:    maxTasks,
		restartCh:   make(chan struct{}, 1),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
	}
}

// RestartSignal exposes the restart notification channel.
func (s *Service) RestartSignal() <-chan struct{} {
	return s.restartCh
}

// startStuckTaskCleanup 定期把节点崩溃遗留在 processing 队列中的任务放回队列。
func (s *Service) startStuckTaskCleanup(ctx context.Context) {
	if s.redisQueue == nil {
		return
	}
	ticker := time.NewTicker(stuckTaskCheckInterval)
	defer ticker.Stop()

	threshold := s.taskTimeout + watchdogGrace
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rescueCtx, cancel := context.WithTimeout(ctx, stuckTaskRescueTimeout)
			count, err := s.redisQueue.RescueStuckTasks(rescueCtx, threshold)
			cancel()
			if err != nil {
				s.logger.Warn("failed to rescue stuck tasks", slog.String("error", err.Error()))
			} else if count > 0 {
				s.logger.Info("rescued stuck tasks", slog.Int("count", count))
			}
		}
	}
}

// detailOptions 由配置生成详情会话参数，配置中的受限提示语追加在内置列表之后。
func (s *Service) detailOptions() DetailOptions {
	phrases := make([]string, 0, len(DefaultBlockedPhrases)+len(s.cfg.Detail.BlockedPhrases))
	phrases = append(phrases, DefaultBlockedPhrases...)
	phrases = append(phrases, s.cfg.Detail.BlockedPhrases...)
	return DetailOptions{
		NavigateRetries: s.cfg.Detail.NavigateRetries,
		NavigateTimeout: s.cfg.Browser.NavigateTimeout,
		BlockedPhrases:  phrases,
	}
}

// FetchDetail 执行一个详情任务。
//
// 流程：
// 1. 申请导航令牌（跨节点限流）
// 2. 打开新标签页（Stealth 模式），页面生命周期受 page_timeout 约束
// 3. 导航、可访问性检查、按需加载评论、提取快照
// 4. 记录 metrics 与统计
//
// 注意：并发控制由 StartWorker 中的信号量管理，此方法直接执行抓取。
//
// 返回值:
//
//	*model.DetailResult: 总是非 nil，失败时带错误类型与信息
//	error: 执行过程中的错误
func (s *Service) FetchDetail(ctx context.Context, task *model.DetailTask) (*model.DetailResult, error) {
	start := time.Now()
	logger := s.logger.With(slog.String("task_id", task.TaskID), slog.String("feed_id", task.FeedID))
	logger.Info("fetching feed detail", slog.Bool("load_all_comments", task.LoadAllComments))
	s.stats.TotalProcessed.Add(1)

	detail, stats, err := s.fetch(ctx, task, logger)
	s.recordMetrics(start, stats, err)
	s.countTask()

	res := &model.DetailResult{
		TaskID:     task.TaskID,
		Kind:       model.TaskKindDetail,
		FeedID:     task.FeedID,
		Stats:      stats,
		FinishedAt: time.Now(),
	}
	if err != nil {
		s.stats.TotalFailed.Add(1)
		res.ErrorClass = ClassifyError(err)
		res.Error = err.Error()
		logger.Error("fetch detail failed",
			slog.String("class", res.ErrorClass),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return res, err
	}

	s.stats.TotalSucceeded.Add(1)
	res.Detail = detail
	logger.Info("fetch detail finished",
		slog.Int("comments", stats.CommentsLoaded),
		slog.String("termination", string(stats.Termination)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *Service) fetch(ctx context.Context, task *model.DetailTask, logger *slog.Logger) (*model.FeedDetail, model.LoadStats, error) {
	req := DetailRequest{
		FeedID:          task.FeedID,
		AccessToken:     task.AccessToken,
		LoadAllComments: task.LoadAllComments,
		Config:          task.Config.Normalize(),
	}
	if err := req.Validate(); err != nil {
		return nil, model.LoadStats{}, err
	}

	var (
		detail *model.FeedDetail
		stats  model.LoadStats
	)
	err := s.withSession(ctx, task.TaskID, task.FeedID, logger, func(ctx context.Context, session *DetailSession) error {
		var err error
		detail, stats, err = session.GetDetail(ctx, req)
		return err
	})
	return detail, stats, err
}

// withSession 申请令牌、打开页面并在其上执行 fn；页面在所有路径上都会关闭。
func (s *Service) withSession(ctx context.Context, taskID, feedID string, logger *slog.Logger, fn func(ctx context.Context, session *DetailSession) error) error {
	if err := s.rateLimiter.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire navigation token: %w", err)
	}

	pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	h, err := s.openPage(pageCtx)
	if err != nil {
		return err
	}
	defer h.close()

	session := NewDetailSession(h.page, s.newPacer(), s.detailOptions(), logger)
	err = fn(pageCtx, session)
	if err != nil && shouldDiagnose(err) {
		s.logPageFailure("detail", taskID, BuildFeedURL(feedID, ""), h.raw, err)
	}
	return err
}

// shouldDiagnose 受限笔记与参数错误是预期结果，不需要页面诊断。
func shouldDiagnose(err error) bool {
	var blocked *AccessBlockedError
	return !errors.As(err, &blocked) && !errors.Is(err, ErrInvalidRequest)
}

func (s *Service) recordMetrics(start time.Time, stats model.LoadStats, err error) {
	metrics.DetailRequestsTotal.WithLabelValues(classifyStatus(err)).Inc()
	metrics.DetailDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DetailErrorsTotal.WithLabelValues(ClassifyError(err)).Inc()
	} else {
		metrics.CommentsLoaded.Observe(float64(stats.CommentsLoaded))
	}
	if stats.Termination != model.TerminationNone {
		metrics.LoadTerminationTotal.WithLabelValues(string(stats.Termination)).Inc()
	}
	metrics.RepliesExpandedTotal.Add(float64(stats.TotalExpanded))
	metrics.RepliesSkippedTotal.Add(float64(stats.TotalSkipped))
}

// countTask 累计任务数，达到 maxTasks 时发出重启信号（释放浏览器内存）。
func (s *Service) countTask() {
	if s.maxTasks == 0 {
		return
	}
	n := s.taskCounter.Add(1)
	if n < s.maxTasks {
		return
	}
	select {
	case s.restartCh <- struct{}{}:
		s.logger.Info("max tasks reached, signaling shutdown",
			slog.Uint64("count", n),
			slog.Uint64("limit", s.maxTasks))
	default:
	}
}

// PostComment 在笔记下发表评论。
func (s *Service) PostComment(ctx context.Context, feedID, accessToken, content string) error {
	logger := s.logger.With(slog.String("feed_id", feedID))
	return s.withSession(ctx, "comment-"+feedID, feedID, logger, func(ctx context.Context, session *DetailSession) error {
		return session.PostComment(ctx, feedID, accessToken, content)
	})
}

// ReplyToComment 回复笔记下的某条评论，commentID 与 userID 至少提供一个。
func (s *Service) ReplyToComment(ctx context.Context, feedID, accessToken, commentID, userID, content string) error {
	logger := s.logger.With(slog.String("feed_id", feedID), slog.String("comment_id", commentID))
	return s.withSession(ctx, "reply-"+feedID, feedID, logger, func(ctx context.Context, session *DetailSession) error {
		return session.ReplyToComment(ctx, feedID, accessToken, commentID, userID, content)
	})
}

// RunCommentTask 执行评论或回复任务，结果格式与详情任务一致，便于统一回传。
func (s *Service) RunCommentTask(ctx context.Context, task *model.DetailTask) (*model.DetailResult, error) {
	start := time.Now()
	kind := task.EffectiveKind()
	logger := s.logger.With(
		slog.String("task_id", task.TaskID),
		slog.String("feed_id", task.FeedID),
		slog.String("kind", string(kind)))
	s.stats.TotalProcessed.Add(1)

	var err error
	switch kind {
	case model.TaskKindComment:
		err = s.PostComment(ctx, task.FeedID, task.AccessToken, task.Content)
	case model.TaskKindReply:
		err = s.ReplyToComment(ctx, task.FeedID, task.AccessToken, task.CommentID, task.UserID, task.Content)
	default:
		err = fmt.Errorf("%w: unsupported task kind %q", ErrInvalidRequest, kind)
	}
	metrics.CommentActionsTotal.WithLabelValues(string(kind), classifyStatus(err)).Inc()
	s.countTask()

	res := &model.DetailResult{
		TaskID:     task.TaskID,
		Kind:       kind,
		FeedID:     task.FeedID,
		FinishedAt: time.Now(),
	}
	if err != nil {
		s.stats.TotalFailed.Add(1)
		res.ErrorClass = ClassifyError(err)
		res.Error = err.Error()
		logger.Error("comment task failed",
			slog.String("class", res.ErrorClass),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return res, err
	}
	s.stats.TotalSucceeded.Add(1)
	logger.Info("comment task finished", slog.Duration("duration", time.Since(start)))
	return res, nil
}

// StartWorker runs a Redis task consumption loop until ctx is canceled.
func (s *Service) StartWorker(ctx context.Context) error {
	if s.redisQueue == nil {
		return errors.New("redis queue client is not initialized")
	}

	// 令牌数 = 浏览器最大并发数，确保同时打开的页面数不超过配置值
	concurrencyLimit := s.cfg.Browser.MaxConcurrency
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	sem := make(chan struct{}, concurrencyLimit)
	s.logger.Info("crawler worker started", slog.Int("max_concurrent_pages", concurrencyLimit))

	for {
		// 1. 在拉取任务前先申请令牌，如果处理不过来，就暂停拉取 Redis
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		// 2. 拉取任务
		task, err := s.redisQueue.PopTask(ctx, popTaskTimeout)
		if err != nil {
			<-sem // 拉取失败, 释放令牌
			if errors.Is(err, redisqueue.ErrNoTask) {
				continue
			}
			if ctx.Err() != nil {
				s.logger.Info("worker loop stopped")
				return ctx.Err()
			}
			s.logger.Error("pop redis task failed", slog.String("error", err.Error()))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		// 3. 处理任务（在独立 goroutine 中，带看门狗保护）
		go func(t *model.DetailTask) {
			defer func() { <-sem }()
			s.runTask(t)
		}(task)
	}
}

// runTask 执行单个任务并回传结果，任何情况下都会 ack。
func (s *Service) runTask(t *model.DetailTask) {
	taskStart := time.Now()
	done := make(chan struct{})

	// 看门狗只负责记录日志，任务最终会通过 context 超时返回
	go func() {
		select {
		case <-done:
		case <-time.After(s.taskTimeout + watchdogGrace):
			s.logger.Error("watchdog timeout triggered, task stuck",
				slog.String("task_id", t.TaskID),
				slog.Duration("elapsed", time.Since(taskStart)))
		}
	}()

	var res *model.DetailResult
	defer func() {
		if r := recover(); r != nil {
			s.stats.TotalPanics.Add(1)
			s.logger.Error("detail task panic recovered",
				slog.String("task_id", t.TaskID),
				slog.Any("panic", r))
			res = &model.DetailResult{
				TaskID:     t.TaskID,
				Kind:       t.EffectiveKind(),
				FeedID:     t.FeedID,
				ErrorClass: "unknown",
				Error:      fmt.Sprintf("panic: %v", r),
				FinishedAt: time.Now(),
			}
		}
		close(done)
		s.finishTask(t, res)
		s.logger.Debug("task goroutine exited",
			slog.String("task_id", t.TaskID),
			slog.Duration("total_duration", time.Since(taskStart)))
	}()

	taskCtx, cancel := context.WithTimeout(s.bgCtx, s.taskTimeout)
	defer cancel()
	if t.EffectiveKind() == model.TaskKindDetail {
		res, _ = s.FetchDetail(taskCtx, t)
		return
	}
	res, _ = s.RunCommentTask(taskCtx, t)
}

// finishTask 推送结果并 ack，使用独立的 context，不受任务超时影响。
func (s *Service) finishTask(t *model.DetailTask, res *model.DetailResult) {
	if res != nil {
		pushCtx, pushCancel := context.WithTimeout(context.Background(), redisOperationTimeout)
		if err := s.redisQueue.PushResult(pushCtx, res); err != nil {
			s.logger.Error("push redis result failed",
				slog.String("task_id", t.TaskID),
				slog.String("error", err.Error()))
		}
		pushCancel()
	}

	ackCtx, ackCancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer ackCancel()
	if err := s.redisQueue.AckTask(ackCtx, t); err != nil {
		s.logger.Error("failed to ack task",
			slog.String("task_id", t.TaskID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("task acked", slog.String("task_id", t.TaskID))
}

// Shutdown 优雅关闭爬虫服务。
//
// 关闭顺序：
// 1. 停止后台任务（健康检查、卡住任务清理），正在执行的任务随之取消
// 2. 关闭浏览器实例
//
// Redis 连接归调用方所有，不在这里关闭。
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down crawler service...")

	if s.bgCancel != nil {
		s.bgCancel()
	}

	s.mu.Lock()
	browser := s.browser
	s.browser = nil
	s.mu.Unlock()
	if browser != nil {
		if err := browser.Context(ctx).Close(); err != nil {
			s.logger.Error("close browser failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("crawler service shutdown completed",
		slog.Int64("total_processed", s.stats.TotalProcessed.Load()),
		slog.Int64("total_succeeded", s.stats.TotalSucceeded.Load()),
		slog.Int64("total_failed", s.stats.TotalFailed.Load()),
	)
	return nil
}

// CrawlerStats 爬虫统计信息快照
type CrawlerStats struct {
	TotalProcessed int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalPanics    int64
}

// Stats 获取爬虫服务的统计信息。
func (s *Service) Stats() CrawlerStats {
	return CrawlerStats{
		TotalProcessed: s.stats.TotalProcessed.Load(),
		TotalSucceeded: s.stats.TotalSucceeded.Load(),
		TotalFailed:    s.stats.TotalFailed.Load(),
		TotalPanics:    s.stats.TotalPanics.Load(),
	}
}
