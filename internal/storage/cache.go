package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const seenSetKey = "newsrelay:seen"

// CachedStore 在持久存储外侧加一层 Redis 已见集合，只加速判重不改变语义。
// 集合里命中一定是旧文；未命中仍要问持久层。Redis 不可用时整体退化为直查。
type CachedStore struct {
	inner Store
	rdb   *redis.Client
	log   *zap.SugaredLogger
}

func NewCachedStore(inner Store, rdb *redis.Client, log *zap.SugaredLogger) *CachedStore {
	return &CachedStore{inner: inner, rdb: rdb, log: log}
}

func (s *CachedStore) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	member, err := s.rdb.SIsMember(ctx, seenSetKey, fingerprint).Result()
	if err == nil && member {
		return false, nil
	}
	return s.inner.IsNew(ctx, fingerprint)
}

func (s *CachedStore) MarkSeen(ctx context.Context, fingerprint, source string, seenAt time.Time) error {
	if err := s.inner.MarkSeen(ctx, fingerprint, source, seenAt); err != nil {
		return err
	}
	// 缓存写失败不影响结果，下次判重会落到持久层
	if err := s.rdb.SAdd(ctx, seenSetKey, fingerprint).Err(); err != nil {
		s.log.Debugf("redis sadd: %v", err)
	}
	return nil
}

func (s *CachedStore) FilterNew(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	if len(fingerprints) == 0 {
		return map[string]bool{}, nil
	}

	members := make([]interface{}, len(fingerprints))
	for i, fp := range fingerprints {
		members[i] = fp
	}
	hits, err := s.rdb.SMIsMember(ctx, seenSetKey, members...).Result()
	if err != nil || len(hits) != len(fingerprints) {
		if err != nil {
			s.log.Debugf("redis smismember: %v", err)
		}
		return s.inner.FilterNew(ctx, fingerprints)
	}

	out := make(map[string]bool, len(fingerprints))
	miss := make([]string, 0, len(fingerprints))
	for i, fp := range fingerprints {
		if hits[i] {
			out[fp] = false
		} else {
			miss = append(miss, fp)
		}
	}
	if len(miss) > 0 {
		rest, err := s.inner.FilterNew(ctx, miss)
		if err != nil {
			return nil, err
		}
		for fp, isNew := range rest {
			out[fp] = isNew
		}
	}
	return out, nil
}

func (s *CachedStore) SaveReport(ctx context.Context, rec *ReportRecord) error {
	return s.inner.SaveReport(ctx, rec)
}

func (s *CachedStore) RecentReports(ctx context.Context, source string, limit int) ([]ReportRecord, error) {
	return s.inner.RecentReports(ctx, source, limit)
}

func (s *CachedStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.log.Debugf("close redis: %v", err)
	}
	return s.inner.Close()
}
