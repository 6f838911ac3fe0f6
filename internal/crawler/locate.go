package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
)

// locateComment 边滚动边查找评论。
//
// 每轮依次：遇到底部横幅放弃；评论数连续 10 轮没有变化放弃；按 #comment-{id} 查找（最多等 2s）；
// 按 data-user-id 在评论节点中查找；都没有则把最后一条评论滚到可见并推动一次，停顿 800ms。
// 最多 100 轮，找不到返回 ErrCommentNotFound。
func locateComment(ctx context.Context, page Page, pacer Pacer, logger *slog.Logger, commentID, userID string) (Element, error) {
	if commentID == "" && userID == "" {
		return nil, fmt.Errorf("%w: comment id or user id is required", ErrInvalidRequest)
	}

	dom := domReader{page: page, pacer: pacer}
	sc := newScroller(page, pacer, logger)

	if err := sc.scrollToCommentArea(ctx); err != nil {
		return nil, err
	}

	lastCount := 0
	stagnant := 0
	for attempt := 0; attempt < locateMaxAttempts; attempt++ {
		end, err := dom.endMarkerVisible(ctx)
		if isTerminal(ctx, err) {
			return nil, err
		}
		if end {
			logger.Debug("end marker reached while locating comment", slog.Int("attempt", attempt))
			return nil, ErrCommentNotFound
		}

		count, err := dom.commentCount(ctx)
		if isTerminal(ctx, err) {
			return nil, err
		}
		if err != nil {
			count = lastCount
		}
		if count != lastCount {
			lastCount = count
			stagnant = 0
		} else {
			stagnant++
			if stagnant >= locateStagnantLimit {
				logger.Debug("comment count stagnant while locating", slog.Int("count", count))
				return nil, ErrCommentNotFound
			}
		}

		if commentID != "" {
			el, err := page.WaitElement(ctx, selCommentByID(commentID), locateDirectWait)
			if isTerminal(ctx, err) {
				return nil, err
			}
			if el != nil {
				logger.Info("comment located by id", slog.String("comment_id", commentID), slog.Int("attempt", attempt))
				return el, nil
			}
		}

		if userID != "" {
			el, err := findByAuthor(ctx, page, userID)
			if isTerminal(ctx, err) {
				return nil, err
			}
			if el != nil {
				logger.Info("comment located by author", slog.String("user_id", userID), slog.Int("attempt", attempt))
				return el, nil
			}
		}

		if last, err := dom.lastComment(ctx); err == nil && last != nil {
			if err := last.ScrollIntoView(ctx); err != nil && isTerminal(ctx, err) {
				return nil, err
			}
		} else if isTerminal(ctx, err) {
			return nil, err
		}
		if _, err := sc.humanScroll(ctx, model.SpeedNormal, false, 1); err != nil {
			return nil, err
		}
		if err := pause(ctx, pacer, locatePause); err != nil {
			return nil, err
		}
	}
	return nil, ErrCommentNotFound
}

func findByAuthor(ctx context.Context, page Page, userID string) (Element, error) {
	nodes, err := page.Elements(ctx, selLocatorScan)
	if err != nil {
		return nil, err
	}
	sel := selByUserID(userID)
	for _, n := range nodes {
		hit, err := n.Element(ctx, sel)
		if err != nil {
			if isTerminal(ctx, err) {
				return nil, err
			}
			continue
		}
		if hit != nil {
			return n, nil
		}
	}
	return nil, nil
}
