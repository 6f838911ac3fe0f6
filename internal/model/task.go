package model

import "time"

// TaskKind 队列任务类型。
type TaskKind string

const (
	TaskKindDetail  TaskKind = "detail"  // 抓取详情快照
	TaskKindComment TaskKind = "comment" // 发表评论
	TaskKindReply   TaskKind = "reply"   // 回复评论
)

// DetailTask 经 Redis 队列从 API 投递给爬虫节点的任务。
//
// Kind 为空时按详情抓取处理；评论与回复任务使用 Content，回复任务还需要
// CommentID 与 UserID 中的至少一个。
type DetailTask struct {
	TaskID          string     `json:"task_id"`
	Kind            TaskKind   `json:"kind,omitempty"`
	FeedID          string     `json:"feed_id"`
	AccessToken     string     `json:"xsec_token"`
	LoadAllComments bool       `json:"load_all_comments"`
	Config          LoadConfig `json:"config"`
	Content         string     `json:"content,omitempty"`
	CommentID       string     `json:"comment_id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EffectiveKind 返回任务类型，未设置时为 TaskKindDetail。
func (t *DetailTask) EffectiveKind() TaskKind {
	if t == nil || t.Kind == "" {
		return TaskKindDetail
	}
	return t.Kind
}

// PendingKey 队列去重占位的键。
//
// 详情任务按笔记去重；评论与回复每次都是独立操作，按任务 ID 占位。
func (t *DetailTask) PendingKey() string {
	kind := t.EffectiveKind()
	if kind == TaskKindDetail {
		return t.FeedID
	}
	return string(kind) + ":" + t.TaskID
}

// DetailResult 爬虫节点回传的任务结果。
type DetailResult struct {
	TaskID     string      `json:"task_id"`
	Kind       TaskKind    `json:"kind,omitempty"`
	FeedID     string      `json:"feed_id"`
	Detail     *FeedDetail `json:"detail,omitempty"`
	Stats      LoadStats   `json:"stats"`
	ErrorClass string      `json:"error_class,omitempty"` // navigation / blocked / no_data / timeout / page_closed / invalid / unknown
	Error      string      `json:"error,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// IsDetail 结果是否来自详情抓取任务。
func (r *DetailResult) IsDetail() bool {
	return r != nil && (r.Kind == "" || r.Kind == TaskKindDetail)
}

// Succeeded 是否执行成功；详情任务还要求拿到快照。
func (r *DetailResult) Succeeded() bool {
	if r == nil || r.Error != "" {
		return false
	}
	if r.IsDetail() {
		return r.Detail != nil
	}
	return true
}
