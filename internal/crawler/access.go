package crawler

import (
	"context"
	"log/slog"
	"strings"
)

// AccessResult 页面访问检查结果。
type AccessResult struct {
	Blocked bool
	Reason  string
}

// checkAccessible 检查详情页是否展示了"无法浏览"类提示。
//
// 找到受限容器且文本命中 phrases 时，以命中的提示语作为原因；容器有文本但未命中时，
// 以容器文本本身作为原因。检查过程出错时按可访问处理，交由后续提取判断。
func checkAccessible(ctx context.Context, page Page, pacer Pacer, phrases []string, logger *slog.Logger) AccessResult {
	dom := domReader{page: page, pacer: pacer}
	text, err := dom.text(ctx, selBlockedContainer, false)
	if err != nil {
		logger.Debug("access check failed, assuming accessible", slog.String("error", err.Error()))
		return AccessResult{}
	}
	if text == "" {
		return AccessResult{}
	}
	if phrase, ok := MatchBlockedPhrase(text, phrases); ok {
		return AccessResult{Blocked: true, Reason: phrase}
	}
	return AccessResult{Blocked: true, Reason: strings.TrimSpace(text)}
}
