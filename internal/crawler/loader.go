package crawler

import (
	"context"
	"log/slog"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
)

// LoadState 加载循环的可变状态。
type LoadState struct {
	LastCount      int
	LastScrollTop  int
	StagnantCycles int
	Attempt        int
}

// commentLoader 评论加载状态机：滚动、展开、计数，直到底部横幅、达到目标或预算耗尽。
type commentLoader struct {
	page     Page
	pacer    Pacer
	logger   *slog.Logger
	dom      domReader
	scroller *scroller
	expander *expander

	// onCycle 每轮结束时回调（测试观察状态用），可为空。
	onCycle func(LoadState)
}

func newCommentLoader(page Page, pacer Pacer, logger *slog.Logger) *commentLoader {
	return &commentLoader{
		page:     page,
		pacer:    pacer,
		logger:   logger,
		dom:      domReader{page: page, pacer: pacer},
		scroller: newScroller(page, pacer, logger),
		expander: &expander{page: page, pacer: pacer, logger: logger},
	}
}

// attemptBudget 目标数 × 3，未设置目标时为 500。
func attemptBudget(cfg model.LoadConfig) int {
	if cfg.TargetCount > 0 {
		return cfg.TargetCount * targetAttemptsFactor
	}
	return defaultMaxAttempts
}

// run 执行加载循环。
//
// 加载不完整不是错误：返回的 LoadStats.Termination 记录结束原因，调用方照常提取快照。
// 只有 ctx 取消时返回错误；页面关闭以 TerminationPageClosed 结束。
func (l *commentLoader) run(ctx context.Context, cfg model.LoadConfig) (model.LoadStats, error) {
	cfg = cfg.Normalize()
	profile := profileFor(cfg.ScrollSpeed)
	budget := attemptBudget(cfg)

	var (
		stats model.LoadStats
		state LoadState
	)

	finish := func(t model.Termination, err error) (model.LoadStats, error) {
		if t == model.TerminationNone {
			t = l.terminationFor(ctx, err)
		}
		stats.Termination = t
		stats.CommentsLoaded = state.LastCount
		l.logger.Info("comment loading finished",
			slog.String("termination", string(t)),
			slog.Int("comments", stats.CommentsLoaded),
			slog.Int("total_label", stats.TotalLabel),
			slog.Int("attempts", stats.AttemptsUsed),
			slog.Int("expanded", stats.TotalExpanded),
			slog.Int("skipped", stats.TotalSkipped))
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		return stats, nil
	}

	if err := l.scroller.scrollToCommentArea(ctx); err != nil {
		return finish(model.TerminationNone, err)
	}

	empty, err := l.dom.noCommentsVisible(ctx)
	if isTerminal(ctx, err) {
		return finish(model.TerminationNone, err)
	}
	if empty {
		return finish(model.TerminationNoComments, nil)
	}

	for state.Attempt = 0; state.Attempt < budget; state.Attempt++ {
		stats.AttemptsUsed = state.Attempt + 1

		// 1. 底部横幅
		end, err := l.dom.endMarkerVisible(ctx)
		if isTerminal(ctx, err) {
			return finish(model.TerminationNone, err)
		}
		if end {
			if n, err := l.dom.commentCount(ctx); err == nil {
				state.LastCount = n
			}
			return finish(model.TerminationEndMarker, nil)
		}

		// 2. 展开回复，连续两轮以覆盖第一轮点开后新出现的按钮
		if cfg.ExpandReplies && state.Attempt%expandInterval == 0 {
			if err := l.expandTwice(ctx, cfg.ReplyThreshold, &stats); err != nil {
				return finish(model.TerminationNone, err)
			}
		}

		// 3. 计数
		count, err := l.dom.commentCount(ctx)
		if isTerminal(ctx, err) {
			return finish(model.TerminationNone, err)
		}
		if err != nil {
			// 本轮读不到计数，按未变化处理
			count = state.LastCount
		}
		if total, err := l.dom.totalLabel(ctx); err == nil && total > 0 {
			stats.TotalLabel = total
		}

		// 4. 变化判断：折叠或虚拟列表回收会让数量减少，同样视为页面有变化
		if count != state.LastCount {
			l.logger.Info("comment count changed",
				slog.Int("from", state.LastCount),
				slog.Int("to", count),
				slog.Int("attempt", state.Attempt))
			state.LastCount = count
			state.StagnantCycles = 0
		} else {
			state.StagnantCycles++
			if state.StagnantCycles%5 == 0 {
				l.logger.Debug("comment loading stagnant",
					slog.Int("stagnant", state.StagnantCycles),
					slog.Int("count", count))
			}
		}

		// 5. 目标
		if cfg.TargetCount > 0 && state.LastCount >= cfg.TargetCount {
			return finish(model.TerminationTargetReached, nil)
		}

		// 6. 滚动
		if state.LastCount > 0 {
			if last, err := l.dom.lastComment(ctx); err == nil && last != nil {
				if err := last.ScrollIntoView(ctx); err != nil && isTerminal(ctx, err) {
					return finish(model.TerminationNone, err)
				}
				if err := pause(ctx, l.pacer, shortDelay); err != nil {
					return finish(model.TerminationNone, err)
				}
			} else if isTerminal(ctx, err) {
				return finish(model.TerminationNone, err)
			}
		}

		large := state.StagnantCycles >= largeScrollTrigger
		pushes := 1
		if large {
			pushes = 3 + l.pacer.Intn(4)
		}
		res, err := l.scroller.humanScroll(ctx, cfg.ScrollSpeed, large, pushes)
		if err != nil {
			return finish(model.TerminationNone, err)
		}

		// 7. 位移判断
		if res.Delta < minScrollDelta || res.Position == state.LastScrollTop {
			state.StagnantCycles++
		} else {
			state.StagnantCycles = 0
			state.LastScrollTop = res.Position
		}

		// 8. 强力突破
		if state.StagnantCycles >= stagnantLimit {
			l.logger.Info("stagnation limit reached, escalating",
				slog.Int("stagnant", state.StagnantCycles),
				slog.Int("count", state.LastCount))
			if _, err := l.scroller.humanScroll(ctx, cfg.ScrollSpeed, true, escalationPushCount); err != nil {
				return finish(model.TerminationNone, err)
			}
			state.StagnantCycles = 0
			end, err := l.dom.endMarkerVisible(ctx)
			if isTerminal(ctx, err) {
				return finish(model.TerminationNone, err)
			}
			if end {
				if n, err := l.dom.commentCount(ctx); err == nil {
					state.LastCount = n
				}
				return finish(model.TerminationEndMarker, nil)
			}
		}

		if l.onCycle != nil {
			l.onCycle(state)
		}

		// 9. 间隔
		if err := pause(ctx, l.pacer, profile.interval); err != nil {
			return finish(model.TerminationNone, err)
		}
	}

	// 预算耗尽，最后冲刺一次
	if _, err := l.scroller.humanScroll(ctx, cfg.ScrollSpeed, true, finalSprintPushCount); err != nil {
		return finish(model.TerminationNone, err)
	}
	if n, err := l.dom.commentCount(ctx); err == nil {
		state.LastCount = n
	}
	return finish(model.TerminationBudgetExhausted, nil)
}

// expandTwice 先展开一轮；若本轮发现了按钮，再展开第二轮。
func (l *commentLoader) expandTwice(ctx context.Context, threshold int, stats *model.LoadStats) error {
	first, err := l.expander.expandAffordances(ctx, threshold)
	stats.TotalExpanded += first.Clicked
	stats.TotalSkipped += first.Skipped
	if err != nil {
		return err
	}
	if first.Clicked == 0 && first.Skipped == 0 {
		return nil
	}
	if err := pause(ctx, l.pacer, readDelay); err != nil {
		return err
	}

	second, err := l.expander.expandAffordances(ctx, threshold)
	stats.TotalExpanded += second.Clicked
	stats.TotalSkipped += second.Skipped
	if err != nil {
		return err
	}
	return pause(ctx, l.pacer, secondPassDelay)
}

func (l *commentLoader) terminationFor(ctx context.Context, err error) model.Termination {
	if ctx.Err() != nil {
		return model.TerminationCanceled
	}
	if err != nil {
		return model.TerminationPageClosed
	}
	return model.TerminationNone
}
