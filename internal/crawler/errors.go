package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNavigationFailed 导航重试耗尽。
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrExtractionMiss 页面状态中没有目标笔记。
	ErrExtractionMiss = errors.New("feed not found in page state")
	// ErrPageClosed 页面已关闭或会话断开，正在进行的循环应当结束。
	ErrPageClosed = errors.New("page closed")
	// ErrCommentNotFound 评论定位失败。
	ErrCommentNotFound = errors.New("comment not found")
	// ErrInvalidRequest 参数不合法。
	ErrInvalidRequest = errors.New("invalid request")
)

// AccessBlockedError 笔记不可访问（删除、私密、违规等）。
type AccessBlockedError struct {
	Reason string
}

func (e *AccessBlockedError) Error() string {
	return fmt.Sprintf("feed not accessible: %s", e.Reason)
}

// ============================================================================
// 错误分类
// ============================================================================

// crawlErrorType 爬虫错误类型
type crawlErrorType int

const (
	errTypeUnknown crawlErrorType = iota
	errTypeTimeout
	errTypeBlocked    // 笔记不可访问
	errTypeNavigation // 导航失败
	errTypeNoData     // 状态中没有数据
	errTypePageClosed
	errTypeInvalid
)

// classifyError 统一的错误分类函数
func classifyError(err error) crawlErrorType {
	if err == nil {
		return errTypeUnknown
	}

	var blocked *AccessBlockedError
	switch {
	case errors.As(err, &blocked):
		return errTypeBlocked
	case errors.Is(err, ErrInvalidRequest):
		return errTypeInvalid
	case errors.Is(err, ErrNavigationFailed):
		return errTypeNavigation
	case errors.Is(err, ErrExtractionMiss):
		return errTypeNoData
	case errors.Is(err, ErrPageClosed):
		return errTypePageClosed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errTypeTimeout
	}
	for _, kw := range []string{"net::", "connection", "navigate"} {
		if strings.Contains(msg, kw) {
			return errTypeNavigation
		}
	}
	return errTypeUnknown
}

// ClassifyError 返回用于 metrics 和结果回传的错误类型字符串，成功时为空。
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	switch classifyError(err) {
	case errTypeTimeout:
		return "timeout"
	case errTypeBlocked:
		return "blocked"
	case errTypeNavigation:
		return "navigation"
	case errTypeNoData:
		return "no_data"
	case errTypePageClosed:
		return "page_closed"
	case errTypeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// classifyStatus 返回用于 metrics 的请求状态字符串
func classifyStatus(err error) string {
	if err == nil {
		return "success"
	}
	if classifyError(err) == errTypeBlocked {
		return "blocked"
	}
	return "error"
}

// isTerminal 页面已不可用或调用方已放弃，循环应立即结束。
func isTerminal(ctx context.Context, err error) bool {
	return errors.Is(err, ErrPageClosed) || ctx.Err() != nil
}
