package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/ysmood/gson"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// fakePacer: 确定性的随机源与时钟
// ============================================================================

type fakePacer struct {
	mu     sync.Mutex
	slept  time.Duration
	sleeps int
	intn   func(n int) int // 为空时恒返回 0
	f      float64
}

func (p *fakePacer) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.slept += d
	p.sleeps++
	p.mu.Unlock()
	return nil
}

func (p *fakePacer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	if p.intn != nil {
		return p.intn(n)
	}
	return 0
}

func (p *fakePacer) Float64() float64 { return p.f }

// maxIntn 让每次随机都取上界，用于验证预算上限。
func maxIntn(n int) int { return n - 1 }

// ============================================================================
// fakePage: 模拟详情页评论区
// ============================================================================

type fakePage struct {
	mu sync.Mutex

	feedID string

	// 滚动
	viewport  int
	scrollTop int
	maxScroll int // >0 时滚动位置不超过该值
	bottom    int // jsScrollToBottom 跳到的位置，0 表示不动

	// 评论区
	comments        int // 已渲染的顶层评论数
	perPush         int // 每次有效推动新渲染的评论数
	maxComments     int // 可渲染的评论上限，0 表示无限
	endAfterPushes  int // 有效推动达到该次数后出现底部横幅，0 表示不出现
	endAfterEvals   int // jsScrollBy 调用达到该次数后出现底部横幅，0 表示不出现
	endVisible      bool
	noComments      bool
	totalLabel      string
	blockedText     string // 非空时渲染受限容器
	showMore        []*fakeElement
	targetID        string // 定位用的评论 ID
	targetAfter     int    // 有效推动达到该次数后 #comment-{targetID} 出现，<0 表示永不出现
	authorID        string // 定位用的作者 ID
	authorAfter     int
	closeAfter      int // 有效推动达到该次数后页面关闭，0 表示不关闭
	closed          bool
	stateMissing    bool // 页面状态始终为空
	stateEmptyReads int  // 前 N 次读取状态返回空
	stateJSON       string

	// 导航
	navErrs []error

	// 评论框
	focus  *fakeElement
	input  *fakeElement
	submit *fakeElement

	// 观测
	navCalls       int
	pushes         int // 有效推动次数
	scrollEvals    int // jsScrollBy 调用次数
	scrollToBottom int
	stateReads     int
	mouseMoves     int
	waits          map[string]int
}

func newFakePage(feedID string) *fakePage {
	return &fakePage{
		feedID:      feedID,
		viewport:    1000,
		targetAfter: -1,
		authorAfter: -1,
		focus:       &fakeElement{visible: true, box: &Box{Width: 100, Height: 20}},
		input:       &fakeElement{visible: true, box: &Box{Width: 300, Height: 40}},
		submit:      &fakeElement{visible: true, box: &Box{Width: 60, Height: 30}},
		waits:       map[string]int{},
	}
}

func (p *fakePage) closedErr() error {
	if p.closed {
		return fmt.Errorf("%w: Target closed", ErrPageClosed)
	}
	return nil
}

func (p *fakePage) isClosed() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closedErr()
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCalls++
	if len(p.navErrs) > 0 {
		err := p.navErrs[0]
		p.navErrs = p.navErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closedErr(); err != nil {
		return gson.JSON{}, err
	}

	switch js {
	case jsScrollTop:
		return gson.NewFrom(strconv.Itoa(p.scrollTop)), nil
	case jsViewportHeight:
		return gson.NewFrom(strconv.Itoa(p.viewport)), nil
	case jsScrollBy:
		p.scrollEvals++
		p.scrollBy(args[0].(int))
		if p.endAfterEvals > 0 && p.scrollEvals >= p.endAfterEvals {
			p.endVisible = true
		}
		return gson.New(nil), nil
	case jsScrollToBottom:
		p.scrollToBottom++
		if p.bottom > p.scrollTop {
			p.scrollTop = p.bottom
		}
		return gson.New(nil), nil
	case jsNudgeScroller:
		return gson.New(true), nil
	case jsFeedState:
		p.stateReads++
		if p.stateMissing || p.stateReads <= p.stateEmptyReads || args[0].(string) != p.feedID {
			return gson.New(""), nil
		}
		if p.stateJSON != "" {
			return gson.New(p.stateJSON), nil
		}
		return gson.New(p.renderedState()), nil
	}
	return gson.JSON{}, fmt.Errorf("unexpected script: %s", js)
}

// scrollBy 模拟一次推动：位移生效时渲染更多评论，并推进各类出现条件。
func (p *fakePage) scrollBy(dy int) {
	next := p.scrollTop + dy
	if p.maxScroll > 0 && next > p.maxScroll {
		next = p.maxScroll
	}
	if next-p.scrollTop <= scrollMovedDelta {
		p.scrollTop = next
		return
	}
	p.scrollTop = next
	p.pushes++

	p.comments += p.perPush
	if p.maxComments > 0 && p.comments > p.maxComments {
		p.comments = p.maxComments
	}
	if p.endAfterPushes > 0 && p.pushes >= p.endAfterPushes {
		p.endVisible = true
	}
	if p.closeAfter > 0 && p.pushes >= p.closeAfter {
		p.closed = true
	}
}

func (p *fakePage) Element(ctx context.Context, selector string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closedErr(); err != nil {
		return nil, err
	}

	switch selector {
	case selBlockedContainer:
		if p.blockedText != "" {
			return p.el(p.blockedText), nil
		}
	case selTotalLabel:
		if p.totalLabel != "" {
			return p.el(p.totalLabel), nil
		}
	case selEndMarker:
		if p.endVisible {
			return p.el("- THE END -"), nil
		}
	case selNoComments:
		if p.noComments {
			return p.el("这是一片荒地，点击评论"), nil
		}
	case selCommentSubmit:
		return asElement(p.submit), nil
	}
	return nil, nil
}

func (p *fakePage) Elements(ctx context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closedErr(); err != nil {
		return nil, err
	}

	switch selector {
	case selComment, selLocatorScan:
		out := make([]Element, 0, p.comments)
		for i := 0; i < p.comments; i++ {
			el := p.el(fmt.Sprintf("comment %d", i))
			el.children = map[string]*fakeElement{selReplyButton: p.el("回复")}
			if p.authorID != "" && p.authorAfter >= 0 && p.pushes >= p.authorAfter && i == p.comments-1 {
				el.children[selByUserID(p.authorID)] = p.el(p.authorID)
			}
			out = append(out, el)
		}
		return out, nil
	case selShowMore:
		out := make([]Element, 0, len(p.showMore))
		for _, b := range p.showMore {
			b.page = p
			out = append(out, b)
		}
		return out, nil
	}
	return nil, nil
}

func (p *fakePage) WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closedErr(); err != nil {
		return nil, err
	}
	p.waits[selector]++

	switch selector {
	case selCommentArea:
		return p.el("评论区"), nil
	case selCommentFocus:
		return asElement(p.focus), nil
	case selCommentInput:
		return asElement(p.input), nil
	}
	if p.targetID != "" && selector == selCommentByID(p.targetID) && p.targetAfter >= 0 && p.pushes >= p.targetAfter {
		el := p.el("target comment")
		el.children = map[string]*fakeElement{selReplyButton: p.el("回复")}
		return el, nil
	}
	return nil, nil
}

func (p *fakePage) MoveMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closedErr(); err != nil {
		return err
	}
	p.mouseMoves++
	return nil
}

// asElement 避免把 nil 指针包装成非 nil 的接口值。
func asElement(e *fakeElement) Element {
	if e == nil {
		return nil
	}
	return e
}

func (p *fakePage) el(text string) *fakeElement {
	return &fakeElement{page: p, text: text, visible: true, box: &Box{X: 10, Y: 10, Width: 80, Height: 20}}
}

// renderedState 按当前已渲染的评论数生成页面状态。
func (p *fakePage) renderedState() string {
	item := model.ContentItem{
		ID:          p.feedID,
		Title:       "测试笔记",
		AuthorID:    "author-1",
		AccessToken: "token-from-state",
	}
	comments := make([]model.CommentRecord, 0, p.comments)
	for i := 0; i < p.comments; i++ {
		comments = append(comments, model.CommentRecord{
			ID:       fmt.Sprintf("c-%d", i),
			Content:  fmt.Sprintf("comment %d", i),
			AuthorID: fmt.Sprintf("u-%d", i),
		})
	}
	return encodeState(item, comments)
}

// encodeState 把记录编码成站点页面状态的格式，回复挂到父评论的 subComments 下。
func encodeState(item model.ContentItem, comments []model.CommentRecord) string {
	entry := stateEntry{
		Note: stateNote{
			NoteID:    item.ID,
			Title:     item.Title,
			Desc:      item.Body,
			XsecToken: item.AccessToken,
			User:      stateUser{UserID: item.AuthorID, Nickname: item.AuthorName},
			InteractInfo: stateInteract{
				LikedCount:   flexCount(item.Counters.Likes),
				CommentCount: flexCount(item.Counters.Comments),
				ShareCount:   flexCount(item.Counters.Shares),
			},
		},
	}
	for _, img := range item.Images {
		entry.Note.ImageList = append(entry.Note.ImageList, stateImage{URLDefault: img})
	}

	index := map[string]int{}
	for _, c := range comments {
		sc := stateComment{
			ID:              c.ID,
			NoteID:          c.ParentContentID,
			Content:         c.Content,
			LikeCount:       flexCount(c.LikeCount),
			SubCommentCount: flexCount(c.ReplyCount),
			ShowTags:        c.Tags,
			UserInfo:        stateUser{UserID: c.AuthorID, Nickname: c.AuthorName},
		}
		if !c.CreatedAt.IsZero() {
			sc.CreateTime = c.CreatedAt.UnixMilli()
		}
		if c.ParentCommentID != "" {
			if i, ok := index[c.ParentCommentID]; ok {
				entry.Comments.List[i].SubComments = append(entry.Comments.List[i].SubComments, sc)
				continue
			}
		}
		index[c.ID] = len(entry.Comments.List)
		entry.Comments.List = append(entry.Comments.List, sc)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// ============================================================================
// fakeElement
// ============================================================================

type fakeElement struct {
	page     *fakePage
	text     string
	visible  bool
	box      *Box
	children map[string]*fakeElement

	mu       sync.Mutex
	clicks   int
	scrolls  int
	typed    string
	clickErr error

	collapseOnScroll bool // 滚动进入视口后布局框消失
}

func (e *fakeElement) pageErr() error {
	if e.page == nil {
		return nil
	}
	return e.page.isClosed()
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	if err := e.pageErr(); err != nil {
		return "", err
	}
	return e.text, nil
}

func (e *fakeElement) Visible(ctx context.Context) (bool, error) {
	if err := e.pageErr(); err != nil {
		return false, err
	}
	return e.visible, nil
}

func (e *fakeElement) Box(ctx context.Context) (*Box, error) {
	if err := e.pageErr(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.collapseOnScroll && e.scrolls > 0 {
		return nil, nil
	}
	return e.box, nil
}

func (e *fakeElement) ScrollIntoView(ctx context.Context) error {
	if err := e.pageErr(); err != nil {
		return err
	}
	e.mu.Lock()
	e.scrolls++
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	if err := e.pageErr(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	return nil
}

func (e *fakeElement) Input(ctx context.Context, text string) error {
	if err := e.pageErr(); err != nil {
		return err
	}
	e.mu.Lock()
	e.typed += text
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Element(ctx context.Context, selector string) (Element, error) {
	if err := e.pageErr(); err != nil {
		return nil, err
	}
	if child, ok := e.children[selector]; ok {
		return child, nil
	}
	return nil, nil
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.pageErr(); err != nil {
		return "", false, err
	}
	if strings.HasPrefix(name, "data-") {
		return e.text, true, nil
	}
	return "", false, nil
}

// showMoreButtons 生成 n 个展开按钮，文案为 "展开 replies 条回复"。
func showMoreButtons(n, replies int) []*fakeElement {
	out := make([]*fakeElement, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &fakeElement{
			text:    fmt.Sprintf("展开 %d 条回复", replies),
			visible: true,
			box:     &Box{X: 20, Y: float64(40 * i), Width: 90, Height: 24},
		})
	}
	return out
}
