package crawler

import (
	"context"
	"errors"
	"log/slog"
)

// expandResult 一轮展开的结果。
type expandResult struct {
	Clicked  int
	Skipped  int
	Attempts int // 实际发起点击的按钮数
}

// expander 点击"展开 N 条回复"按钮。
type expander struct {
	page   Page
	pacer  Pacer
	logger *slog.Logger
}

// expandAffordances 处理当前可见的展开按钮。
//
// 不可见或没有布局面积的按钮静默跳过；回复数超过 threshold（>0 时生效）的按钮跳过，跳过不占用点击预算；
// 每轮最多尝试 expandBase + [0, expandBase] 个按钮。单个按钮失败不会中断本轮。
func (e *expander) expandAffordances(ctx context.Context, threshold int) (expandResult, error) {
	var res expandResult

	buttons, err := readDOM(ctx, e.pacer, func(ctx context.Context) ([]Element, error) {
		return e.page.Elements(ctx, selShowMore)
	})
	if err != nil {
		if isTerminal(ctx, err) {
			return res, err
		}
		e.logger.Debug("list expand buttons failed", slog.String("error", err.Error()))
		return res, nil
	}

	budget := expandBase + e.pacer.Intn(expandBase+1)
	for _, btn := range buttons {
		if res.Attempts >= budget {
			break
		}

		visible, err := btn.Visible(ctx)
		if err != nil {
			if isTerminal(ctx, err) {
				return res, err
			}
			continue
		}
		if !visible {
			continue
		}
		// 没有布局框的按钮点不到，直接跳过，不占用点击预算
		box, err := btn.Box(ctx)
		if err != nil {
			if isTerminal(ctx, err) {
				return res, err
			}
			continue
		}
		if !hasArea(box) {
			continue
		}

		label, err := btn.Text(ctx)
		if err != nil {
			if isTerminal(ctx, err) {
				return res, err
			}
			continue
		}
		if threshold > 0 {
			if n, ok := ParseReplyCount(label); ok && n > threshold {
				res.Skipped++
				continue
			}
		}

		res.Attempts++
		if err := e.clickLikeHuman(ctx, btn); err != nil {
			if isTerminal(ctx, err) {
				return res, err
			}
			e.logger.Debug("expand click failed", slog.String("label", label), slog.String("error", err.Error()))
			continue
		}
		res.Clicked++
	}
	return res, nil
}

// clickLikeHuman 滚动到可见、停顿、移动指针、悬停、点击、阅读停顿，失败最多重试 3 次。
func (e *expander) clickLikeHuman(ctx context.Context, el Element) error {
	var lastErr error
	for attempt := 0; attempt < clickMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, e.pacer, domRetryBackoff); err != nil {
				return err
			}
		}
		err := e.clickOnce(ctx, el)
		if err == nil {
			return nil
		}
		if isTerminal(ctx, err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

var errNoLayout = errors.New("element has no layout box")

func (e *expander) clickOnce(ctx context.Context, el Element) error {
	if err := el.ScrollIntoView(ctx); err != nil {
		return err
	}
	if err := pause(ctx, e.pacer, reactionDelay); err != nil {
		return err
	}

	box, err := el.Box(ctx)
	if err != nil {
		return err
	}
	// 滚动后布局可能塌缩
	if !hasArea(box) {
		return errNoLayout
	}
	x, y := box.Center()
	if err := e.page.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	if err := pause(ctx, e.pacer, hoverDelay); err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return err
	}
	return pause(ctx, e.pacer, readDelay)
}

func hasArea(box *Box) bool {
	return box != nil && box.Width > 0 && box.Height > 0
}
