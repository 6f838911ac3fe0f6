package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	KeyTaskQueue           = "xhs:queue:detail"
	KeyTaskProcessingQueue = "xhs:queue:detail:processing"
	KeyResultQueue         = "xhs:queue:detail:results"
	KeyTaskPendingSet      = "xhs:queue:detail:pending" // 去重集合 (详情任务为 feed_id，评论任务为 kind:task_id)
	KeyTaskStartedHash     = "xhs:queue:detail:started" // 任务开始处理时间 (task_id -> unix timestamp)
)

var (
	ErrNoTask     = errors.New("no task available")
	ErrNoResult   = errors.New("no result available")
	ErrTaskExists = errors.New("task already in queue") // 同一笔记的详情任务已在队列中
)

// Client 封装详情任务与结果的 Redis List 队列。
type Client struct {
	rdb *redis.Client
}

// NewClient creates a redisqueue client with address/password.
func NewClient(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewClientWithRedis creates a redisqueue client from an existing redis.Client.
func NewClientWithRedis(rdb *redis.Client) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Client{rdb: rdb}, nil
}

// Redis 返回底层连接，供限流、去重等组件复用。
func (c *Client) Redis() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// Ping 检查 Redis 连通性，供健康检查使用。
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭连接。
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// pushTaskScript 原子性地执行 SADD + LPUSH，避免中间状态不一致。
// KEYS[1] = pending set, KEYS[2] = task queue
// ARGV[1] = pending key, ARGV[2] = task JSON
// 返回: 1 = 成功推送, 0 = 占位已存在
var pushTaskScript = redis.NewScript(`
	local added = redis.call('SADD', KEYS[1], ARGV[1])
	if added == 0 then
		return 0
	end
	redis.call('LPUSH', KEYS[2], ARGV[2])
	return 1
`)

// PushTask 序列化任务并推入队列。
// 同一笔记的详情任务未被 ack 之前再次推送返回 ErrTaskExists；评论与回复任务按任务 ID 占位，互不冲突。
func (c *Client) PushTask(ctx context.Context, task *model.DetailTask) error {
	if task == nil {
		return errors.New("task is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if task.TaskID == "" {
		return errors.New("task id is empty")
	}
	if task.FeedID == "" {
		return errors.New("feed id is empty")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	result, err := pushTaskScript.Run(ctx, c.rdb,
		[]string{KeyTaskPendingSet, KeyTaskQueue},
		task.PendingKey(), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("push task script: %w", err)
	}
	if result == 0 {
		metrics.QueueTasksTotal.WithLabelValues("duplicate").Inc()
		return ErrTaskExists
	}

	metrics.QueueTasksTotal.WithLabelValues("enqueued").Inc()
	return nil
}

// PopTask blocks until a task is available or timeout is reached.
// 同时记录任务开始处理的时间到 KeyTaskStartedHash。
func (c *Client) PopTask(ctx context.Context, timeout time.Duration) (*model.DetailTask, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	result, err := c.rdb.BRPopLPush(ctx, KeyTaskQueue, KeyTaskProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("brpoplpush task: %w", err)
	}

	var task model.DetailTask
	if err := json.Unmarshal([]byte(result), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	// 记录任务开始处理的时间（用于判断卡住的任务）
	if task.TaskID != "" {
		c.rdb.HSet(ctx, KeyTaskStartedHash, task.TaskID, time.Now().Unix())
	}

	metrics.QueueTasksTotal.WithLabelValues("consumed").Inc()
	return &task, nil
}

// PushResult 推送抓取结果。
func (c *Client) PushResult(ctx context.Context, res *model.DetailResult) error {
	if res == nil {
		return errors.New("result is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.LPush(ctx, KeyResultQueue, string(data)).Err(); err != nil {
		return fmt.Errorf("lpush result: %w", err)
	}
	return nil
}

// PopResult blocks until a result is available or timeout is reached.
func (c *Client) PopResult(ctx context.Context, timeout time.Duration) (*model.DetailResult, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	result, err := c.rdb.BRPop(ctx, timeout, KeyResultQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("brpop result: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid brpop response: %v", result)
	}

	var res model.DetailResult
	if err := json.Unmarshal([]byte(result[1]), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// ackTaskScript 原子性地从 processing queue 中找到并删除匹配 task_id 的任务。
// KEYS[1] = processing queue, KEYS[2] = pending set, KEYS[3] = started hash
// ARGV[1] = task_id, ARGV[2] = pending key
// 返回: 删除的任务数量
var ackTaskScript = redis.NewScript(`
	local queue = KEYS[1]
	local taskId = ARGV[1]

	local tasks = redis.call('LRANGE', queue, 0, -1)
	local removed = 0
	for _, task in ipairs(tasks) do
		if string.find(task, '"task_id":"' .. taskId .. '"', 1, true) then
			redis.call('LREM', queue, 1, task)
			removed = removed + 1
			break
		end
	end

	redis.call('SREM', KEYS[2], ARGV[2])
	redis.call('HDEL', KEYS[3], taskId)

	return removed
`)

// AckTask 把已处理的任务移出 processing 队列，并释放任务的去重占位。
func (c *Client) AckTask(ctx context.Context, task *model.DetailTask) error {
	if task == nil {
		return errors.New("task is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if task.TaskID == "" {
		return errors.New("task id is empty")
	}

	_, err := ackTaskScript.Run(ctx, c.rdb,
		[]string{KeyTaskProcessingQueue, KeyTaskPendingSet, KeyTaskStartedHash},
		task.TaskID, task.PendingKey(),
	).Int()
	if err != nil {
		return fmt.Errorf("ack task script: %w", err)
	}
	return nil
}

// QueueDepth returns the current length of task and result queues.
func (c *Client) QueueDepth(ctx context.Context) (int64, int64, error) {
	if c == nil || c.rdb == nil {
		return 0, 0, errors.New("redis client is not initialized")
	}
	tasks, err := c.rdb.LLen(ctx, KeyTaskQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen tasks: %w", err)
	}
	results, err := c.rdb.LLen(ctx, KeyResultQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen results: %w", err)
	}
	return tasks, results, nil
}

// rescueScript 只有当 LREM 成功移除了任务时才重新 LPUSH，防止多个节点重复入队。
// KEYS[1] = processing queue, KEYS[2] = task queue, KEYS[3] = started hash
// ARGV[1] = task JSON, ARGV[2] = task_id
var rescueScript = redis.NewScript(`
	local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
	if removed > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[2])
		return 1
	end
	return 0
`)

// RescueStuckTasks 把处理时间超过 timeout 的任务放回队列（通常是节点崩溃遗留）。
func (c *Client) RescueStuckTasks(ctx context.Context, timeout time.Duration) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}

	startedTimes, err := c.rdb.HGetAll(ctx, KeyTaskStartedHash).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall started: %w", err)
	}

	tasksRaw, err := c.rdb.LRange(ctx, KeyTaskProcessingQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lrange processing: %w", err)
	}
	if len(tasksRaw) == 0 {
		// processing 为空，清理孤立的开始时间记录
		for taskID := range startedTimes {
			c.rdb.HDel(ctx, KeyTaskStartedHash, taskID)
		}
		return 0, nil
	}

	now := time.Now()
	rescued := 0
	for _, raw := range tasksRaw {
		var task model.DetailTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil || task.TaskID == "" {
			continue
		}

		started := task.CreatedAt
		if v, ok := startedTimes[task.TaskID]; ok {
			sec, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			started = time.Unix(sec, 0)
		}
		if started.IsZero() || now.Sub(started) <= timeout {
			continue
		}

		result, err := rescueScript.Run(ctx, c.rdb,
			[]string{KeyTaskProcessingQueue, KeyTaskQueue, KeyTaskStartedHash},
			raw, task.TaskID,
		).Int()
		if err != nil {
			continue
		}
		if result == 1 {
			rescued++
		}
	}
	return rescued, nil
}
