// Package metrics 定义爬虫与 API 的 Prometheus 指标。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DetailRequestsTotal 详情抓取次数，status: success / blocked / error。
	DetailRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xhs_detail_requests_total",
		Help: "Total number of feed detail fetches.",
	}, []string{"status"})

	// DetailErrorsTotal 按错误类型统计。
	DetailErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xhs_detail_errors_total",
		Help: "Feed detail failures by error class.",
	}, []string{"class"})

	DetailDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xhs_detail_duration_seconds",
		Help:    "Wall time of a feed detail fetch including comment loading.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	CommentsLoaded = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xhs_comments_loaded",
		Help:    "Number of comments rendered when loading finished.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// LoadTerminationTotal 评论加载结束原因。
	LoadTerminationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xhs_comment_load_termination_total",
		Help: "Comment loading runs by termination cause.",
	}, []string{"cause"})

	RepliesExpandedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xhs_replies_expanded_total",
		Help: "Reply affordances clicked.",
	})

	RepliesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xhs_replies_skipped_total",
		Help: "Reply affordances skipped because of the threshold.",
	})

	// CommentActionsTotal 评论与回复操作，kind: comment / reply，status: success / blocked / error。
	CommentActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xhs_comment_actions_total",
		Help: "Comment and reply actions by outcome.",
	}, []string{"kind", "status"})

	ActivePages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xhs_browser_active_pages",
		Help: "Pages currently open.",
	})

	BrowserRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xhs_browser_restarts_total",
		Help: "Browser restarts triggered by failed health checks.",
	})

	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xhs_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a navigation token.",
		Buckets: prometheus.DefBuckets,
	})

	// QueueTasksTotal 队列吞吐，event: enqueued / duplicate / consumed / result_saved / result_failed / action_done / action_failed。
	QueueTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xhs_queue_tasks_total",
		Help: "Detail task queue events.",
	}, []string{"event"})

	// QueueDepth Redis 队列长度，queue: tasks / results。
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xhs_queue_depth",
		Help: "Current length of the Redis detail queues.",
	}, []string{"queue"})

	registerOnce sync.Once
)

// InitMetrics 注册全部指标，可重复调用。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DetailRequestsTotal,
			DetailErrorsTotal,
			DetailDuration,
			CommentsLoaded,
			LoadTerminationTotal,
			RepliesExpandedTotal,
			RepliesSkippedTotal,
			CommentActionsTotal,
			ActivePages,
			BrowserRestartsTotal,
			RateLimitWaitDuration,
			QueueTasksTotal,
			QueueDepth,
		)
	})
}

// Handler 返回 /metrics 处理器。
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}
