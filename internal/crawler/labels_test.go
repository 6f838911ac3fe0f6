package crawler

import "testing"

// ============================================================================
// 文案解析测试
// ============================================================================

func TestParseReplyCount(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int
		wantOK bool
	}{
		{"chinese", "展开 12 条回复", 12, true},
		{"chinese_no_space", "展开3条回复", 3, true},
		{"english_expand", "Expand 7 replies", 7, true},
		{"english_view", "view 1 reply", 1, true},
		{"no_number", "展开更多回复", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseReplyCount(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseReplyCount(%q) = %d, %v, expected %d, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseTotalCount(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int
		wantOK bool
	}{
		{"chinese", "共 128 条评论", 128, true},
		{"chinese_compact", "共5条评论", 5, true},
		{"english", "42 comments", 42, true},
		{"english_singular", "1 comment", 1, true},
		{"unrelated", "评论", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTotalCount(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseTotalCount(%q) = %d, %v, expected %d, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsEndMarkerText(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"- THE END -", true},
		{"the end", true},
		{"THE\n END", true},
		{"到底了", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEndMarkerText(tt.input); got != tt.want {
			t.Errorf("IsEndMarkerText(%q) = %v, expected %v", tt.input, got, tt.want)
		}
	}
}

func TestIsNoCommentsText(t *testing.T) {
	if !IsNoCommentsText("这是一片荒地，点击评论") {
		t.Error("expected no-comments text to match")
	}
	if IsNoCommentsText("共 3 条评论") {
		t.Error("unexpected match for total label")
	}
}

func TestMatchBlockedPhrase(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantHit bool
	}{
		{"chinese_deleted", "抱歉，该笔记已被删除", "该笔记已被删除", true},
		{"english_case_insensitive", "This note has been REMOVED", "removed", true},
		{"first_in_order_wins", "当前笔记暂时无法浏览 (private)", "当前笔记暂时无法浏览", true},
		{"no_match", "加载中", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchBlockedPhrase(tt.text, DefaultBlockedPhrases)
			if got != tt.want || ok != tt.wantHit {
				t.Errorf("MatchBlockedPhrase(%q) = %q, %v, expected %q, %v", tt.text, got, ok, tt.want, tt.wantHit)
			}
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1234", 1234},
		{"1,234", 1234},
		{"10+", 10},
		{"1.2万", 12000},
		{"3w", 30000},
		{"1.5k", 1500},
		{"2亿", 200000000},
		{"", 0},
		{"赞", 0},
	}
	for _, tt := range tests {
		if got := ParseCount(tt.input); got != tt.want {
			t.Errorf("ParseCount(%q) = %d, expected %d", tt.input, got, tt.want)
		}
	}
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		expected bool
	}{
		{"match_first", "hello world", []string{"hello", "foo"}, true},
		{"match_last", "hello world", []string{"foo", "world"}, true},
		{"no_match", "hello world", []string{"foo", "bar"}, false},
		{"empty_text", "", []string{"foo"}, false},
		{"empty_keywords", "hello", []string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := containsAny(tt.text, tt.keywords); got != tt.expected {
				t.Errorf("containsAny(%q, %v) = %v, expected %v", tt.text, tt.keywords, got, tt.expected)
			}
		})
	}
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		title string
		html  string
		want  string
	}{
		{"安全验证", "", "captcha"},
		{"小红书", `<div class="login-container">`, "login"},
		{"", "访问频繁，请稍后再试", "rate"},
		{"", "net::ERR_CONNECTION_RESET", "network"},
		{"周末去哪儿 - 小红书", "<div id=app>", "none"},
	}
	for _, tt := range tests {
		if got := detectChallenge(tt.title, tt.html); got != tt.want {
			t.Errorf("detectChallenge(%q, %q) = %q, expected %q", tt.title, tt.html, got, tt.want)
		}
	}
}
