package crawler

import (
	"context"
	"time"

	"github.com/ysmood/gson"
)

// Page 是详情抓取所需的受控页面能力。
//
// 生产环境由 rodPage 适配 go-rod；测试中由模拟页面实现。
// 所有方法在页面已关闭或会话断开时返回 ErrPageClosed（可用 errors.Is 判断）。
type Page interface {
	// Navigate 打开 URL 并等待页面加载完成，timeout 为 0 时使用页面默认超时。
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Eval 执行一段形如 `() => ...` 的脚本并返回其 JSON 值。
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// Element 返回第一个匹配元素，不存在时返回 (nil, nil)，不等待。
	Element(ctx context.Context, selector string) (Element, error)
	// Elements 返回所有匹配元素，不等待。
	Elements(ctx context.Context, selector string) ([]Element, error)
	// WaitElement 最多等待 timeout，超时返回 (nil, nil)。
	WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// MoveMouse 将指针移动到视口坐标。
	MoveMouse(ctx context.Context, x, y float64) error
}

// Element 页面元素句柄。
type Element interface {
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	// Box 返回元素在视口中的矩形，元素无布局时返回 nil。
	Box(ctx context.Context) (*Box, error)
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context) error
	// Input 聚焦元素并输入文本。
	Input(ctx context.Context, text string) error
	// Element 在子树内查询，不存在时返回 (nil, nil)。
	Element(ctx context.Context, selector string) (Element, error)
	// Attribute 读取属性，属性不存在时 ok 为 false。
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
}

// Box 元素矩形。
type Box struct {
	X, Y, Width, Height float64
}

// Center 返回矩形中心点。
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}
