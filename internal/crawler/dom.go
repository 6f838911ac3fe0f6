package crawler

import (
	"context"
	"errors"
	"strings"

	"github.com/sethvargo/go-retry"
)

// 页面脚本。均为函数表达式，参数通过 Eval 的 args 传入。
const (
	jsScrollTop      = `() => window.pageYOffset || document.documentElement.scrollTop || document.body.scrollTop || 0`
	jsViewportHeight = `() => window.innerHeight || document.documentElement.clientHeight || 0`
	jsScrollBy       = `(dy) => { window.scrollBy(0, dy); }`
	jsScrollToBottom = `() => { window.scrollTo(0, document.body.scrollHeight); }`
	jsNudgeScroller  = `(dy) => {
		const el = document.querySelector('.note-scroller');
		if (!el) return false;
		el.dispatchEvent(new WheelEvent('wheel', { deltaY: dy, deltaMode: 0, bubbles: true, cancelable: true }));
		return true;
	}`
	jsFeedState = `(id) => {
		const state = window.__INITIAL_STATE__;
		if (!state || !state.note || !state.note.noteDetailMap) return "";
		const raw = state.note.noteDetailMap;
		const map = raw._value || raw.value || raw;
		const entry = map[id];
		if (!entry) return "";
		return JSON.stringify(entry);
	}`
)

// readDOM 执行一次 DOM 读取，失败时以 100–300ms 随机退避重试，最多 3 次。
//
// 页面关闭直接返回 ErrPageClosed，不做重试。
func readDOM[T any](ctx context.Context, p Pacer, read func(context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, pacedBackoff(ctx, p, domRetryBackoff, domReadRetries), func(ctx context.Context) error {
		v, err := read(ctx)
		if err != nil {
			if errors.Is(err, ErrPageClosed) {
				return err
			}
			return retry.RetryableError(err)
		}
		out = v
		return nil
	})
	return out, err
}

// domReader 评论区的只读探测。
type domReader struct {
	page  Page
	pacer Pacer
}

func (d domReader) scrollTop(ctx context.Context) (int, error) {
	return readDOM(ctx, d.pacer, func(ctx context.Context) (int, error) {
		v, err := d.page.Eval(ctx, jsScrollTop)
		if err != nil {
			return 0, err
		}
		return v.Int(), nil
	})
}

func (d domReader) viewportHeight(ctx context.Context) (int, error) {
	return readDOM(ctx, d.pacer, func(ctx context.Context) (int, error) {
		v, err := d.page.Eval(ctx, jsViewportHeight)
		if err != nil {
			return 0, err
		}
		return v.Int(), nil
	})
}

func (d domReader) commentCount(ctx context.Context) (int, error) {
	return readDOM(ctx, d.pacer, func(ctx context.Context) (int, error) {
		els, err := d.page.Elements(ctx, selComment)
		if err != nil {
			return 0, err
		}
		return len(els), nil
	})
}

// lastComment 最后一条已渲染的评论，没有时返回 nil。
func (d domReader) lastComment(ctx context.Context) (Element, error) {
	return readDOM(ctx, d.pacer, func(ctx context.Context) (Element, error) {
		els, err := d.page.Elements(ctx, selComment)
		if err != nil || len(els) == 0 {
			return nil, err
		}
		return els[len(els)-1], nil
	})
}

// totalLabel 读取"共 N 条评论"，未知时返回 0。
func (d domReader) totalLabel(ctx context.Context) (int, error) {
	text, err := d.text(ctx, selTotalLabel, false)
	if err != nil || text == "" {
		return 0, err
	}
	n, _ := ParseTotalCount(text)
	return n, nil
}

func (d domReader) endMarkerVisible(ctx context.Context) (bool, error) {
	text, err := d.text(ctx, selEndMarker, true)
	if err != nil {
		return false, err
	}
	return IsEndMarkerText(text), nil
}

func (d domReader) noCommentsVisible(ctx context.Context) (bool, error) {
	text, err := d.text(ctx, selNoComments, false)
	if err != nil {
		return false, err
	}
	return IsNoCommentsText(text), nil
}

// text 读取第一个匹配元素的文本，元素不存在（或要求可见但不可见）时返回空串。
func (d domReader) text(ctx context.Context, selector string, mustBeVisible bool) (string, error) {
	return readDOM(ctx, d.pacer, func(ctx context.Context) (string, error) {
		el, err := d.page.Element(ctx, selector)
		if err != nil || el == nil {
			return "", err
		}
		if mustBeVisible {
			visible, err := el.Visible(ctx)
			if err != nil {
				return "", err
			}
			if !visible {
				return "", nil
			}
		}
		text, err := el.Text(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	})
}
