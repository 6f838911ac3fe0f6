package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDeduplicator_IsDuplicate(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	d := NewDeduplicator(rdb, time.Minute)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "65a1b2c3d4")
	if err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	if dup {
		t.Fatalf("expected first to be non-duplicate")
	}

	dup, err = d.IsDuplicate(ctx, "65a1b2c3d4")
	if err != nil {
		t.Fatalf("second dedup: %v", err)
	}
	if !dup {
		t.Fatalf("expected second to be duplicate")
	}

	// 窗口过期后放行
	s.FastForward(2 * time.Minute)
	dup, err = d.IsDuplicate(ctx, "65a1b2c3d4")
	if err != nil || dup {
		t.Fatalf("expected expiry to reset dedup, dup=%v err=%v", dup, err)
	}

	// Release 立即放行
	if err := d.Release(ctx, "65a1b2c3d4"); err != nil {
		t.Fatalf("release: %v", err)
	}
	dup, err = d.IsDuplicate(ctx, "65a1b2c3d4")
	if err != nil || dup {
		t.Fatalf("expected release to reset dedup, dup=%v err=%v", dup, err)
	}
}

func TestDeduplicator_NilRedisAlwaysAllows(t *testing.T) {
	d := NewDeduplicator(nil, 0)
	for i := 0; i < 3; i++ {
		dup, err := d.IsDuplicate(context.Background(), "same")
		if err != nil || dup {
			t.Fatalf("expected pass-through, dup=%v err=%v", dup, err)
		}
	}
}
