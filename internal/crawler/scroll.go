package crawler

import (
	"context"
	"log/slog"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
)

// ScrollResult 一次拟人滚动的结果。
type ScrollResult struct {
	Scrolled bool // 累计位移是否超过阈值
	Delta    int  // 累计位移（像素）
	Position int  // 结束时的滚动位置
}

// scroller 拟人化滚动引擎。
type scroller struct {
	page   Page
	pacer  Pacer
	dom    domReader
	logger *slog.Logger
}

func newScroller(page Page, pacer Pacer, logger *slog.Logger) *scroller {
	return &scroller{page: page, pacer: pacer, dom: domReader{page: page, pacer: pacer}, logger: logger}
}

// humanScroll 以 pushCount 次拟人推动滚动页面。
//
// 每次推动幅度 = 视口高度 × (速度比例 × 大幅倍数 + [0, 0.2) 抖动)，不低于 400 像素，
// 再叠加 ±50 像素噪声。若所有推动都没有产生超过 5 像素的位移，则直接跳到页面底部。
//
// 读取失败只会降低本次滚动的效果，只有页面关闭或 ctx 取消会返回错误。
func (s *scroller) humanScroll(ctx context.Context, speed model.ScrollSpeed, large bool, pushCount int) (ScrollResult, error) {
	if pushCount < 1 {
		pushCount = 1
	}
	profile := profileFor(speed)

	viewport, err := s.dom.viewportHeight(ctx)
	if isTerminal(ctx, err) {
		return ScrollResult{}, err
	}
	start, err := s.dom.scrollTop(ctx)
	if isTerminal(ctx, err) {
		return ScrollResult{}, err
	}

	ratio := profile.ratio
	if large {
		ratio *= 2
	}

	pos := start
	moved := false
	for i := 0; i < pushCount; i++ {
		magnitude := int(float64(viewport) * (ratio + s.pacer.Float64()*0.2))
		if magnitude < scrollMinMagnitude {
			magnitude = scrollMinMagnitude
		}
		magnitude += s.pacer.Intn(2*scrollNoise+1) - scrollNoise

		if _, err := s.page.Eval(ctx, jsScrollBy, magnitude); err != nil {
			if isTerminal(ctx, err) {
				return ScrollResult{Position: pos, Delta: pos - start}, err
			}
			s.logger.Debug("scroll push failed", slog.Int("push", i), slog.String("error", err.Error()))
		}
		if err := pause(ctx, s.pacer, scrollSettle); err != nil {
			return ScrollResult{Position: pos, Delta: pos - start}, err
		}

		current, err := s.dom.scrollTop(ctx)
		if isTerminal(ctx, err) {
			return ScrollResult{Position: pos, Delta: pos - start}, err
		}
		if err == nil {
			if current-pos > scrollMovedDelta {
				moved = true
			}
			pos = current
		}

		if pushCount > 1 && i < pushCount-1 {
			if err := pause(ctx, s.pacer, humanPause); err != nil {
				return ScrollResult{Position: pos, Delta: pos - start}, err
			}
		}
	}

	if !moved {
		// 没有任何一次推动生效，直接跳到底部
		if _, err := s.page.Eval(ctx, jsScrollToBottom); err != nil && isTerminal(ctx, err) {
			return ScrollResult{Position: pos, Delta: pos - start}, err
		}
		if err := pause(ctx, s.pacer, scrollSettle); err != nil {
			return ScrollResult{Position: pos, Delta: pos - start}, err
		}
		current, err := s.dom.scrollTop(ctx)
		if isTerminal(ctx, err) {
			return ScrollResult{Position: pos, Delta: pos - start}, err
		}
		if err == nil {
			pos = current
		}
	}

	delta := pos - start
	return ScrollResult{
		Scrolled: delta > scrollMovedDelta,
		Delta:    delta,
		Position: pos,
	}, nil
}

// scrollToCommentArea 把评论区滚动到视野内，并向笔记滚动容器发送一次滚轮事件以触发懒加载。
func (s *scroller) scrollToCommentArea(ctx context.Context) error {
	area, err := s.page.WaitElement(ctx, selCommentArea, commentAreaWait)
	if err != nil && isTerminal(ctx, err) {
		return err
	}
	if area != nil {
		if err := area.ScrollIntoView(ctx); err != nil && isTerminal(ctx, err) {
			return err
		}
	}
	if err := pause(ctx, s.pacer, shortDelay); err != nil {
		return err
	}
	if _, err := s.page.Eval(ctx, jsNudgeScroller, 100); err != nil && isTerminal(ctx, err) {
		return err
	}
	return pause(ctx, s.pacer, shortDelay)
}
