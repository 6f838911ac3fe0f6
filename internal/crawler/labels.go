package crawler

import (
	"regexp"
	"strconv"
	"strings"
)

// 站点文案识别表。页面文案变化时只需要修改这里。
var (
	replyCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`展开\s*(\d+)\s*条回复`),
		regexp.MustCompile(`(?i)(?:expand|show|view)\s+(\d+)\s+repl`),
	}
	totalCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`共\s*(\d+)\s*条评论`),
		regexp.MustCompile(`(?i)(\d+)\s+comments?`),
	}

	endMarkerTexts  = []string{"THEEND"}
	noCommentsTexts = []string{"这是一片荒地"}

	// DefaultBlockedPhrases 访问受限容器中出现的提示语，按优先级排列。
	DefaultBlockedPhrases = []string{
		"当前笔记暂时无法浏览",
		"该内容因违规已被删除",
		"该笔记已被删除",
		"内容不存在",
		"笔记不存在",
		"已失效",
		"私密笔记",
		"仅作者可见",
		"因用户设置，你无法查看",
		"因违规无法查看",
		"removed",
		"private",
		"violation",
		"not found",
	}
)

// ParseReplyCount 从展开按钮文案中解析回复数，例如 "展开 12 条回复"。
func ParseReplyCount(label string) (int, bool) {
	return matchFirstInt(replyCountPatterns, label)
}

// ParseTotalCount 从"共 N 条评论"中解析评论总数。
func ParseTotalCount(label string) (int, bool) {
	return matchFirstInt(totalCountPatterns, label)
}

func matchFirstInt(patterns []*regexp.Regexp, s string) (int, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(s)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// IsEndMarkerText 判断是否为评论区底部的 "THE END" 横幅，忽略大小写与空白。
func IsEndMarkerText(text string) bool {
	return containsAny(compact(strings.ToUpper(text)), endMarkerTexts)
}

// IsNoCommentsText 判断是否为"暂无评论"提示。
func IsNoCommentsText(text string) bool {
	return containsAny(text, noCommentsTexts)
}

// MatchBlockedPhrase 返回 text 中出现的第一个受限提示语（按 phrases 顺序）。
func MatchBlockedPhrase(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// ParseCount 解析站点展示的计数。
//
// 支持 "1234"、"1,234"、"10+"、"1.2万"、"3w"、"1.5k"，无法解析时返回 0。
func ParseCount(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimSuffix(s, "+")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "万"):
		mult, s = 10000, strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "亿"):
		mult, s = 100000000, strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
		mult, s = 10000, s[:len(s)-1]
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult, s = 1000, s[:len(s)-1]
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && mult == 1 {
		return n
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f*mult + 0.5)
}

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
