package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// deadRedis 指向一个没人监听的端口，模拟 Redis 整体不可用
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		ReadTimeout:     50 * time.Millisecond,
		WriteTimeout:    50 * time.Millisecond,
		MaxRetries:      -1,
		PoolSize:        1,
		MinRetryBackoff: -1,
		MaxRetryBackoff: -1,
	})
}

func TestCachedStoreFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	inner := newTestBolt(t, filepath.Join(t.TempDir(), "seen.db"))
	cached := NewCachedStore(inner, deadRedis(), zap.NewNop().Sugar())
	defer cached.Close()

	fp := "dddddddddddddddddddddddddddddddddddddddd"

	// 缓存不可用时语义仍要与持久层完全一致
	isNew, err := cached.IsNew(ctx, fp)
	if err != nil || !isNew {
		t.Fatalf("IsNew = (%v, %v), want (true, nil)", isNew, err)
	}
	if err := cached.MarkSeen(ctx, fp, "jinse", time.Now()); err != nil {
		t.Fatalf("MarkSeen error: %v", err)
	}
	isNew, err = cached.IsNew(ctx, fp)
	if err != nil || isNew {
		t.Fatalf("IsNew after mark = (%v, %v), want (false, nil)", isNew, err)
	}

	got, err := cached.FilterNew(ctx, []string{fp, "fresh"})
	if err != nil {
		t.Fatalf("FilterNew error: %v", err)
	}
	if got[fp] || !got["fresh"] {
		t.Fatalf("FilterNew wrong result: %v", got)
	}
}

func TestCachedStoreDelegatesReports(t *testing.T) {
	ctx := context.Background()
	inner := newTestBolt(t, filepath.Join(t.TempDir(), "reports.db"))
	cached := NewCachedStore(inner, deadRedis(), zap.NewNop().Sugar())
	defer cached.Close()

	rec := &ReportRecord{ID: "r1", Source: "panews", Delivered: 1, FinishedAt: time.Now().UTC()}
	if err := cached.SaveReport(ctx, rec); err != nil {
		t.Fatalf("SaveReport error: %v", err)
	}
	list, err := cached.RecentReports(ctx, "panews", 10)
	if err != nil {
		t.Fatalf("RecentReports error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "r1" {
		t.Fatalf("RecentReports = %+v, want the saved record", list)
	}
}
