package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSeen    = []byte("seen")
	bucketReports = []byte("reports")
)

// BoltStore 单机部署的嵌入式实现，未配置 Postgres 时作为默认存储
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSeen); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

type seenValue struct {
	Source string    `json:"source"`
	SeenAt time.Time `json:"seenAt"`
}

func (s *BoltStore) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	var isNew bool
	err := s.db.View(func(tx *bolt.Tx) error {
		isNew = tx.Bucket(bucketSeen).Get([]byte(fingerprint)) == nil
		return nil
	})
	return isNew, err
}

func (s *BoltStore) MarkSeen(ctx context.Context, fingerprint, source string, seenAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		key := []byte(fingerprint)
		// 保留首次登记的时间
		if b.Get(key) != nil {
			return nil
		}
		val, err := json.Marshal(seenValue{Source: source, SeenAt: seenAt.UTC()})
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
}

func (s *BoltStore) FilterNew(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	out := make(map[string]bool, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		for _, fp := range fingerprints {
			out[fp] = b.Get([]byte(fp)) == nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveReport 用零填充的完成时间纳秒数作 key 前缀，倒序游标即可取最近的报告
func (s *BoltStore) SaveReport(ctx context.Context, rec *ReportRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d_%s", rec.FinishedAt.UTC().UnixNano(), rec.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReports).Put([]byte(key), val)
	})
}

func (s *BoltStore) RecentReports(ctx context.Context, source string, limit int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var list []ReportRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReports).Cursor()
		for k, v := c.Last(); k != nil && len(list) < limit; k, v = c.Prev() {
			var rec ReportRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if source != "" && rec.Source != source {
				continue
			}
			list = append(list, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
