package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// detailRequest 提交详情抓取的请求参数。
type detailRequest struct {
	FeedID          string             `json:"feed_id" binding:"required"`
	AccessToken     string             `json:"xsec_token" binding:"required"`
	LoadAllComments bool               `json:"load_all_comments"`
	Config          *loadConfigRequest `json:"config"`
}

// loadConfigRequest 评论加载参数，未给出的字段使用配置文件中的默认值。
type loadConfigRequest struct {
	ExpandReplies  *bool  `json:"expand_replies"`
	ReplyThreshold *int   `json:"reply_threshold"`
	TargetCount    int    `json:"target_count"`
	ScrollSpeed    string `json:"scroll_speed"`
}

type detailResponse struct {
	TaskID string `json:"task_id"`
	FeedID string `json:"feed_id"`
}

// handleCreateDetail 投递一个详情抓取任务，结果由爬虫节点异步回传。
func (s *Server) handleCreateDetail(c *gin.Context) {
	var req detailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feedID := strings.TrimSpace(req.FeedID)
	token := strings.TrimSpace(req.AccessToken)
	if feedID == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed_id and xsec_token are required"})
		return
	}

	loadCfg, err := buildLoadConfig(s.cfg.Detail, req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	dup, err := s.deduper.IsDuplicate(ctx, feedID)
	if err != nil {
		// 去重失败不阻断投递，队列侧仍有 pending 集合兜底
		s.logger.Error("dedup check failed", slog.String("error", err.Error()), slog.String("feed_id", feedID))
	} else if dup {
		s.logger.Info("detail request deduplicated", slog.String("feed_id", feedID))
		metrics.QueueTasksTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate request", "feed_id": feedID})
		return
	}

	task := &model.DetailTask{
		TaskID:          uuid.NewString(),
		FeedID:          feedID,
		AccessToken:     token,
		LoadAllComments: req.LoadAllComments,
		Config:          loadCfg,
		CreatedAt:       time.Now(),
	}
	if err := s.tasks.PushTask(ctx, task); err != nil {
		if errors.Is(err, redisqueue.ErrTaskExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "task already queued", "feed_id": feedID})
			return
		}
		if relErr := s.deduper.Release(ctx, feedID); relErr != nil {
			s.logger.Warn("dedup release failed", slog.String("error", relErr.Error()), slog.String("feed_id", feedID))
		}
		s.logger.Error("push task failed", slog.String("error", err.Error()), slog.String("feed_id", feedID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue task failed"})
		return
	}

	s.logger.Info("detail task enqueued",
		slog.String("task_id", task.TaskID),
		slog.String("feed_id", feedID),
		slog.Bool("load_all_comments", task.LoadAllComments))
	c.JSON(http.StatusAccepted, detailResponse{TaskID: task.TaskID, FeedID: feedID})
}

// commentRequest 发表评论或回复评论的请求参数。
// comment_id 与 user_id 任一非空时按回复处理。
type commentRequest struct {
	AccessToken string `json:"xsec_token" binding:"required"`
	Content     string `json:"content" binding:"required"`
	CommentID   string `json:"comment_id"`
	UserID      string `json:"user_id"`
}

type commentResponse struct {
	TaskID string         `json:"task_id"`
	FeedID string         `json:"feed_id"`
	Kind   model.TaskKind `json:"kind"`
}

// handleCreateComment 投递一个评论或回复任务，由爬虫节点在浏览器中执行。
func (s *Server) handleCreateComment(c *gin.Context) {
	feedID := strings.TrimSpace(c.Param("id"))
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	content := strings.TrimSpace(req.Content)
	if feedID == "" || token == "" || content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed id, xsec_token and content are required"})
		return
	}

	task := &model.DetailTask{
		TaskID:      uuid.NewString(),
		Kind:        model.TaskKindComment,
		FeedID:      feedID,
		AccessToken: token,
		Content:     content,
		CommentID:   strings.TrimSpace(req.CommentID),
		UserID:      strings.TrimSpace(req.UserID),
		CreatedAt:   time.Now(),
	}
	if task.CommentID != "" || task.UserID != "" {
		task.Kind = model.TaskKindReply
	}

	if err := s.tasks.PushTask(c.Request.Context(), task); err != nil {
		s.logger.Error("push comment task failed",
			slog.String("error", err.Error()),
			slog.String("feed_id", feedID),
			slog.String("kind", string(task.Kind)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue task failed"})
		return
	}

	s.logger.Info("comment task enqueued",
		slog.String("task_id", task.TaskID),
		slog.String("feed_id", feedID),
		slog.String("kind", string(task.Kind)))
	c.JSON(http.StatusAccepted, commentResponse{TaskID: task.TaskID, FeedID: feedID, Kind: task.Kind})
}

// handleGetDetail 返回已入库的快照。
func (s *Server) handleGetDetail(c *gin.Context) {
	feedID := strings.TrimSpace(c.Param("id"))
	if feedID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed id is required"})
		return
	}

	detail, err := s.store.GetDetail(c.Request.Context(), feedID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed detail not found"})
		return
	}
	if err != nil {
		s.logger.Error("load detail failed", slog.String("error", err.Error()), slog.String("feed_id", feedID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load detail failed"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// buildLoadConfig 以配置文件为默认值合并请求中的加载参数。
//
// 参数:
//
//	defaults: 配置文件中的详情默认参数
//	req: 请求中的加载参数，可为 nil
//
// 返回值:
//
//	model.LoadConfig: 合并后的参数
//	error: 取值非法时返回错误
func buildLoadConfig(defaults config.DetailConfig, req *loadConfigRequest) (model.LoadConfig, error) {
	cfg := model.DefaultLoadConfig()
	cfg.ExpandReplies = defaults.ExpandReplies
	cfg.ReplyThreshold = defaults.ReplyThreshold
	speed := defaults.ScrollSpeed

	if req != nil {
		if req.ExpandReplies != nil {
			cfg.ExpandReplies = *req.ExpandReplies
		}
		if req.ReplyThreshold != nil {
			if *req.ReplyThreshold < 0 {
				return model.LoadConfig{}, errors.New("reply_threshold must be >= 0")
			}
			cfg.ReplyThreshold = *req.ReplyThreshold
		}
		if req.TargetCount < 0 {
			return model.LoadConfig{}, errors.New("target_count must be >= 0")
		}
		cfg.TargetCount = req.TargetCount
		if req.ScrollSpeed != "" {
			speed = req.ScrollSpeed
		}
	}

	parsed, err := model.ParseScrollSpeed(speed)
	if err != nil {
		return model.LoadConfig{}, err
	}
	cfg.ScrollSpeed = parsed
	return cfg, nil
}
