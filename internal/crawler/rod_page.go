package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// 会话已断开的错误特征
var pageClosedHints = []string{
	"Target closed",
	"No target with given id",
	"Session with given id not found",
	"use of closed network connection",
	"websocket: close",
	"context canceled by page close",
}

// rodPage 把 *rod.Page 适配为 Page。
type rodPage struct {
	page *rod.Page
}

// newRodPage 包装页面。
func newRodPage(page *rod.Page) *rodPage {
	return &rodPage{page: page}
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	if err := pg.Navigate(url); err != nil {
		return wrapRodErr(ctx, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return wrapRodErr(ctx, err)
	}
	return nil
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, wrapRodErr(ctx, err)
	}
	return res.Value, nil
}

func (p *rodPage) Element(ctx context.Context, selector string) (Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, wrapRodErr(ctx, err)
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) Elements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, wrapRodErr(ctx, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, wrapRodErr(ctx, err)
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) MoveMouse(ctx context.Context, x, y float64) error {
	return wrapRodErr(ctx, p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}))
}

// rodElement 把 *rod.Element 适配为 Element。
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	return text, wrapRodErr(ctx, err)
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	visible, err := e.el.Context(ctx).Visible()
	return visible, wrapRodErr(ctx, err)
}

func (e *rodElement) Box(ctx context.Context) (*Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return nil, wrapRodErr(ctx, err)
	}
	rect := shape.Box()
	if rect == nil || rect.Width == 0 || rect.Height == 0 {
		return nil, nil
	}
	return &Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return wrapRodErr(ctx, e.el.Context(ctx).ScrollIntoView())
}

func (e *rodElement) Click(ctx context.Context) error {
	return wrapRodErr(ctx, e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	return wrapRodErr(ctx, e.el.Context(ctx).Input(text))
}

func (e *rodElement) Element(ctx context.Context, selector string) (Element, error) {
	has, el, err := e.el.Context(ctx).Has(selector)
	if err != nil {
		return nil, wrapRodErr(ctx, err)
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, wrapRodErr(ctx, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// wrapRodErr 把会话断开类错误归一为 ErrPageClosed。
func wrapRodErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if containsAny(err.Error(), pageClosedHints) {
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	}
	return err
}
