package crawler

import (
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"
)

// 滚动
const (
	scrollMinMagnitude = 400 // 单次滚动最小像素
	scrollNoise        = 50  // 单次滚动像素噪声 ±50
	scrollMovedDelta   = 5   // 单次位移超过该值视为"滚动生效"
	minScrollDelta     = 10  // 加载循环中低于该位移视为停滞
)

// 加载循环
const (
	defaultMaxAttempts   = 500
	targetAttemptsFactor = 3
	largeScrollTrigger   = 5  // 停滞达到该值后使用大幅滚动
	stagnantLimit        = 20 // 停滞达到该值触发强力突破
	escalationPushCount  = 10
	finalSprintPushCount = 15
	expandInterval       = 3 // 每 3 次尝试展开一次回复
)

// 展开按钮
const (
	expandBase       = 3
	clickMaxAttempts = 3
)

// 评论定位与杂项
const (
	locateMaxAttempts   = 100
	locateStagnantLimit = 10
	locateDirectWait    = 2 * time.Second
	commentAreaWait     = 2 * time.Second
	domReadRetries      = 2 // 首次失败后再重试 2 次，共 3 次
	extractRetries      = 2
	defaultNavRetries   = 3
	defaultPageTimeout  = 10 * time.Minute
)

var (
	scrollSettle       = delayRange{100 * time.Millisecond, 200 * time.Millisecond}
	humanPause         = delayRange{300 * time.Millisecond, 700 * time.Millisecond}
	reactionDelay      = delayRange{300 * time.Millisecond, 800 * time.Millisecond}
	hoverDelay         = delayRange{100 * time.Millisecond, 300 * time.Millisecond}
	readDelay          = delayRange{500 * time.Millisecond, 1200 * time.Millisecond}
	secondPassDelay    = delayRange{600 * time.Millisecond, 1200 * time.Millisecond}
	shortDelay         = delayRange{300 * time.Millisecond, 500 * time.Millisecond}
	domRetryBackoff    = delayRange{100 * time.Millisecond, 300 * time.Millisecond}
	extractBackoff     = delayRange{200 * time.Millisecond, 300 * time.Millisecond}
	navigateBackoff    = delayRange{500 * time.Millisecond, 1500 * time.Millisecond}
	postNavigateSettle = delayRange{1 * time.Second, 2 * time.Second}
	locatePause        = delayRange{800 * time.Millisecond, 800 * time.Millisecond}
	typingDelay        = delayRange{500 * time.Millisecond, 1000 * time.Millisecond}
)

// speedProfile 速度档位对应的滚动比例与循环间隔，其它组件不得自行定义节奏常量。
type speedProfile struct {
	ratio    float64
	interval delayRange
}

func profileFor(speed model.ScrollSpeed) speedProfile {
	switch speed {
	case model.SpeedSlow:
		return speedProfile{ratio: 0.5, interval: delayRange{1200 * time.Millisecond, 1500 * time.Millisecond}}
	case model.SpeedFast:
		return speedProfile{ratio: 0.9, interval: delayRange{300 * time.Millisecond, 400 * time.Millisecond}}
	default:
		return speedProfile{ratio: 0.7, interval: delayRange{600 * time.Millisecond, 800 * time.Millisecond}}
	}
}
