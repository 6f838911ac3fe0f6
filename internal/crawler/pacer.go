package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// Pacer 提供抓取流程中的随机数与等待。
//
// 所有拟人化延迟都经由 Pacer，测试可以注入确定性实现，不依赖真实时钟。
type Pacer interface {
	// Sleep 等待 d，ctx 取消时提前返回 ctx.Err()。
	Sleep(ctx context.Context, d time.Duration) error
	// Intn 返回 [0, n) 的随机整数。
	Intn(n int) int
	// Float64 返回 [0, 1) 的随机浮点数。
	Float64() float64
}

// NewPacer 返回基于真实时钟的 Pacer。
//
// 每次详情抓取使用独立的实例，避免多个调用之间共享随机源。
func NewPacer() Pacer {
	return &clockPacer{rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

type clockPacer struct {
	rnd *rand.Rand
}

func (p *clockPacer) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *clockPacer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return p.rnd.IntN(n)
}

func (p *clockPacer) Float64() float64 { return p.rnd.Float64() }

// delayRange 闭区间 [Min, Max] 的随机延迟。
type delayRange struct {
	Min, Max time.Duration
}

func (r delayRange) pick(p Pacer) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	span := int(r.Max-r.Min) / int(time.Millisecond)
	return r.Min + time.Duration(p.Intn(span+1))*time.Millisecond
}

// pause 在区间内随机等待。
func pause(ctx context.Context, p Pacer, r delayRange) error {
	return p.Sleep(ctx, r.pick(p))
}

// pacedBackoff 构造最多重试 retries 次的退避策略，间隔从 r 中随机抽取。
//
// 等待本身由 Pacer 完成，返回 0 让 retry.Do 立即进入下一次尝试。
func pacedBackoff(ctx context.Context, p Pacer, r delayRange, retries uint64) retry.Backoff {
	return retry.WithMaxRetries(retries, retry.BackoffFunc(func() (time.Duration, bool) {
		if err := pause(ctx, p, r); err != nil {
			return 0, true
		}
		return 0, false
	}))
}
