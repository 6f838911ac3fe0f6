package model

import (
	"fmt"
	"strings"
)

// ScrollSpeed 滚动速度档位。
type ScrollSpeed string

const (
	SpeedSlow   ScrollSpeed = "slow"
	SpeedNormal ScrollSpeed = "normal"
	SpeedFast   ScrollSpeed = "fast"
)

// ParseScrollSpeed 解析速度档位，空字符串视为 normal。
func ParseScrollSpeed(s string) (ScrollSpeed, error) {
	switch ScrollSpeed(strings.ToLower(strings.TrimSpace(s))) {
	case "", SpeedNormal:
		return SpeedNormal, nil
	case SpeedSlow:
		return SpeedSlow, nil
	case SpeedFast:
		return SpeedFast, nil
	default:
		return "", fmt.Errorf("unknown scroll speed %q", s)
	}
}

// LoadConfig 评论加载参数。
type LoadConfig struct {
	// ExpandReplies 是否点击"展开 N 条回复"。
	ExpandReplies bool `json:"expand_replies"`
	// ReplyThreshold 回复数超过该值的展开按钮将被跳过，0 表示不限制。
	ReplyThreshold int `json:"reply_threshold"`
	// TargetCount 目标评论数，0 表示加载全部。
	TargetCount int         `json:"target_count"`
	ScrollSpeed ScrollSpeed `json:"scroll_speed"`
}

// DefaultLoadConfig 返回默认加载参数。
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{
		ExpandReplies:  false,
		ReplyThreshold: 10,
		TargetCount:    0,
		ScrollSpeed:    SpeedNormal,
	}
}

// Normalize 修正非法取值。
func (c LoadConfig) Normalize() LoadConfig {
	if c.ReplyThreshold < 0 {
		c.ReplyThreshold = 0
	}
	if c.TargetCount < 0 {
		c.TargetCount = 0
	}
	if speed, err := ParseScrollSpeed(string(c.ScrollSpeed)); err == nil {
		c.ScrollSpeed = speed
	} else {
		c.ScrollSpeed = SpeedNormal
	}
	return c
}

// Termination 加载循环的结束原因，每次运行恰好一个。
type Termination string

const (
	TerminationNone            Termination = ""
	TerminationNoComments      Termination = "no_comments"
	TerminationEndMarker       Termination = "end_marker"
	TerminationTargetReached   Termination = "target_reached"
	TerminationBudgetExhausted Termination = "budget_exhausted"
	TerminationPageClosed      Termination = "page_closed"
	TerminationCanceled        Termination = "canceled"
)

// LoadStats 加载循环的统计信息。
type LoadStats struct {
	TotalExpanded  int         `json:"total_expanded"`
	TotalSkipped   int         `json:"total_skipped"`
	AttemptsUsed   int         `json:"attempts_used"`
	CommentsLoaded int         `json:"comments_loaded"`
	TotalLabel     int         `json:"total_label"` // 页面显示的"共 N 条评论"，未知为 0
	Termination    Termination `json:"termination"`
}
