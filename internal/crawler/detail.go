package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/sethvargo/go-retry"
)

// DetailRequest 一次详情抓取请求。
type DetailRequest struct {
	FeedID          string
	AccessToken     string
	LoadAllComments bool
	Config          model.LoadConfig
}

// Validate 校验必填参数。
func (r DetailRequest) Validate() error {
	if strings.TrimSpace(r.FeedID) == "" {
		return fmt.Errorf("%w: feed id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return fmt.Errorf("%w: xsec_token is required", ErrInvalidRequest)
	}
	return nil
}

// DetailOptions 详情流程中与页面无关的参数。
type DetailOptions struct {
	NavigateRetries int           // 导航最多尝试次数，默认 3
	NavigateTimeout time.Duration // 单次导航超时，0 表示使用页面默认值
	BlockedPhrases  []string      // 受限提示语，默认 DefaultBlockedPhrases
}

func (o DetailOptions) withDefaults() DetailOptions {
	if o.NavigateRetries <= 0 {
		o.NavigateRetries = defaultNavRetries
	}
	if len(o.BlockedPhrases) == 0 {
		o.BlockedPhrases = DefaultBlockedPhrases
	}
	return o
}

// DetailSession 在一个已就绪的页面上执行详情相关操作。
//
// 一个会话独占一个页面和一个 Pacer，不可并发使用；多个会话之间互不影响。
type DetailSession struct {
	page   Page
	pacer  Pacer
	opts   DetailOptions
	logger *slog.Logger
}

// NewDetailSession 创建会话。pacer 为 nil 时使用真实时钟。
func NewDetailSession(page Page, pacer Pacer, opts DetailOptions, logger *slog.Logger) *DetailSession {
	if pacer == nil {
		pacer = NewPacer()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DetailSession{page: page, pacer: pacer, opts: opts.withDefaults(), logger: logger}
}

// GetDetail 打开详情页、检查可访问性、按需加载全部评论，最后从页面状态提取快照。
//
// 返回的错误只有三类：ErrNavigationFailed、*AccessBlockedError、ErrExtractionMiss
// （以及 ctx 取消）。评论加载不完整不算失败，结束原因记录在 LoadStats 中。
func (s *DetailSession) GetDetail(ctx context.Context, req DetailRequest) (*model.FeedDetail, model.LoadStats, error) {
	var stats model.LoadStats
	if err := req.Validate(); err != nil {
		return nil, stats, err
	}
	logger := s.logger.With(slog.String("feed_id", req.FeedID))

	if err := s.open(ctx, req.FeedID, req.AccessToken); err != nil {
		return nil, stats, err
	}

	if res := checkAccessible(ctx, s.page, s.pacer, s.opts.BlockedPhrases, logger); res.Blocked {
		logger.Info("feed not accessible", slog.String("reason", res.Reason))
		return nil, stats, &AccessBlockedError{Reason: res.Reason}
	}

	if req.LoadAllComments {
		loader := newCommentLoader(s.page, s.pacer, logger)
		var err error
		stats, err = loader.run(ctx, req.Config)
		if err != nil {
			return nil, stats, err
		}
	}

	detail, err := extractDetail(ctx, s.page, s.pacer, req.FeedID, req.AccessToken)
	if err != nil {
		return nil, stats, err
	}
	if !req.LoadAllComments {
		stats.CommentsLoaded = len(detail.Comments)
	}
	logger.Info("feed detail extracted",
		slog.Int("comments", len(detail.Comments)),
		slog.String("termination", string(stats.Termination)))
	return detail, stats, nil
}

// open 导航到详情页，失败时以 0.5–1.5s 随机退避重试；成功后再停顿 1–2s 等待渲染。
func (s *DetailSession) open(ctx context.Context, feedID, accessToken string) error {
	url := BuildFeedURL(feedID, accessToken)
	attempt := 0
	err := retry.Do(ctx, pacedBackoff(ctx, s.pacer, navigateBackoff, uint64(s.opts.NavigateRetries-1)), func(ctx context.Context) error {
		attempt++
		err := s.page.Navigate(ctx, url, s.opts.NavigateTimeout)
		if err == nil {
			return nil
		}
		s.logger.Warn("navigate failed",
			slog.String("feed_id", feedID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrPageClosed) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrNavigationFailed, feedID, attempt, err)
	}
	return pause(ctx, s.pacer, postNavigateSettle)
}

// FindComment 在当前详情页中定位评论，详见 locateComment。
func (s *DetailSession) FindComment(ctx context.Context, commentID, userID string) (Element, error) {
	return locateComment(ctx, s.page, s.pacer, s.logger, commentID, userID)
}
