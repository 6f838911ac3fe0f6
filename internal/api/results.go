package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/queue"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"
)

const (
	resultPopTimeout     = 2 * time.Second
	resultSaveTimeout    = 30 * time.Second
	queueDepthInterval   = 15 * time.Second
	resultIdleBackoff    = 100 * time.Millisecond
	resultFailureBackoff = 200 * time.Millisecond
)

// StartResultListener 监听 Redis 结果队列，把成功的快照交给 worker 池入库。
//
// worker 池满时 Submit 阻塞，监听器随之停止拉取，形成背压。
// ctx 取消时返回 nil。
func (s *Server) StartResultListener(ctx context.Context) error {
	if s.tasks == nil {
		return errors.New("task queue is not initialized")
	}

	s.logger.Info("result listener started")
	go s.monitorQueueDepth(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := s.tasks.PopResult(ctx, resultPopTimeout)
		if err != nil {
			if errors.Is(err, redisqueue.ErrNoResult) {
				sleepCtx(ctx, resultIdleBackoff)
				continue
			}
			// 优雅关闭：返回 nil 而不是 err，防止 main 函数打印 "error: context canceled"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			s.logger.Error("pop redis result failed", slog.String("error", err.Error()))
			sleepCtx(ctx, resultFailureBackoff)
			continue
		}
		if res == nil {
			continue
		}

		job := queue.Job{
			Name: "save_result:" + res.TaskID,
			Run: func(jobCtx context.Context) error {
				return s.handleResult(jobCtx, res)
			},
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				s.logger.Warn("result dropped during shutdown", slog.String("task_id", res.TaskID))
				return nil
			}
			s.logger.Error("submit result job failed",
				slog.String("task_id", res.TaskID),
				slog.String("error", err.Error()))
		}
	}
}

// handleResult 处理单个任务结果。
//
// 详情快照成功时写入存储；失败时只记录日志并释放去重占位，允许调用方立即重试。
// 评论与回复任务没有快照，也不占用去重窗口，只记录结果。
func (s *Server) handleResult(ctx context.Context, res *model.DetailResult) error {
	logger := s.logger.With(
		slog.String("task_id", res.TaskID),
		slog.String("feed_id", res.FeedID))

	if !res.IsDetail() {
		if res.Succeeded() {
			metrics.QueueTasksTotal.WithLabelValues("action_done").Inc()
			logger.Info("comment task done", slog.String("kind", string(res.Kind)))
		} else {
			metrics.QueueTasksTotal.WithLabelValues("action_failed").Inc()
			logger.Warn("comment task failed",
				slog.String("kind", string(res.Kind)),
				slog.String("error_class", res.ErrorClass),
				slog.String("error", res.Error))
		}
		return nil
	}

	if !res.Succeeded() {
		metrics.QueueTasksTotal.WithLabelValues("result_failed").Inc()
		logger.Warn("detail task failed",
			slog.String("error_class", res.ErrorClass),
			slog.String("error", res.Error),
			slog.String("termination", string(res.Stats.Termination)))
		if err := s.deduper.Release(ctx, res.FeedID); err != nil {
			logger.Warn("dedup release failed", slog.String("error", err.Error()))
		}
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, resultSaveTimeout)
	defer cancel()
	if err := s.store.SaveDetail(saveCtx, res.Detail); err != nil {
		metrics.QueueTasksTotal.WithLabelValues("result_failed").Inc()
		return fmt.Errorf("save detail %s: %w", res.FeedID, err)
	}

	metrics.QueueTasksTotal.WithLabelValues("result_saved").Inc()
	logger.Info("result saved",
		slog.Int("comments", len(res.Detail.Comments)),
		slog.Int("attempts", res.Stats.AttemptsUsed),
		slog.String("termination", string(res.Stats.Termination)))
	return nil
}

func (s *Server) monitorQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleQueueDepth(ctx)
		}
	}
}

func (s *Server) sampleQueueDepth(ctx context.Context) {
	tasks, results, err := s.tasks.QueueDepth(ctx)
	if err != nil {
		s.logger.Warn("queue depth sample failed", slog.String("error", err.Error()))
		return
	}
	metrics.QueueDepth.WithLabelValues("tasks").Set(float64(tasks))
	metrics.QueueDepth.WithLabelValues("results").Set(float64(results))

	stats := s.pool.Stats()
	s.logger.Debug("queue stats",
		slog.Int64("tasks", tasks),
		slog.Int64("results", results),
		slog.Int("pool_pending", stats.Pending),
		slog.Int64("pool_failed", stats.Failed))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
