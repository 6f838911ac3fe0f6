// Package queue 提供固定大小的进程内 worker 池，用于把结果落库等慢操作移出热路径。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Job 一个带名字的异步任务，名字仅用于日志。
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler 任务失败回调。
type ErrorHandler func(job Job, err error)

// Queue 内存任务队列与固定 worker 池。
type Queue struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex // 保护 jobs 的关闭与发送

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64
	Succeeded int64
	Failed    int64
	Dropped   int64 // 队列满被拒绝
	Panics    int64
	Pending   int
}

// New 创建队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func New(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// OnError 设置失败回调，需在 Start 之前调用。
func (q *Queue) OnError(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker，直到 ctx 取消或 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.execute(ctx, job, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.stats.failed.Add(1)
			q.logger.Error("job panic recovered",
				slog.String("job", job.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.stats.failed.Add(1)
		q.logger.Warn("job failed",
			slog.String("job", job.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(job, err)
		}
		return
	}
	q.stats.succeeded.Add(1)
}

// TrySubmit 非阻塞入队，队列满返回 ErrQueueFull。
func (q *Queue) TrySubmit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run func", job.Name)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		return nil
	default:
		q.stats.dropped.Add(1)
		q.logger.Warn("queue full, drop job",
			slog.String("job", job.Name),
			slog.Int("capacity", cap(q.jobs)))
		return ErrQueueFull
	}
}

// Submit 阻塞入队，直到成功或 ctx 结束。
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run func", job.Name)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 拒绝新任务，等待已入队任务执行完毕，最多等待 timeout。
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained", slog.Int64("succeeded", q.stats.succeeded.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
		Pending:   len(q.jobs),
	}
}
