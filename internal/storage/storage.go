package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// ReportRecord 一轮采集投递的持久化统计，/api/v1/stats 直接返回该结构
type ReportRecord struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	Source      string            `gorm:"size:64;index" json:"source"`
	Candidates  int               `json:"candidates"`
	Dropped     int               `json:"dropped"`
	New         int               `json:"new"`
	Delivered   int               `json:"delivered"`
	Rejected    int               `json:"rejected"`
	Retryable   int               `json:"retryable"`
	SourceError string            `gorm:"size:1024" json:"sourceError,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `gorm:"index" json:"finishedAt"`
	ExtraData   datatypes.JSONMap `gorm:"type:jsonb" json:"extraData,omitempty"`
}

// Store 指纹判重与轮次报告的统一抽象，Postgres 与 Bolt 两套实现语义一致。
// 指纹只在投递结论明确（送达或被永久拒绝）之后登记，
// 瞬时失败不登记，让下一轮自然重投。
type Store interface {
	// IsNew 返回指纹是否从未登记过
	IsNew(ctx context.Context, fingerprint string) (bool, error)
	// MarkSeen 登记指纹，重复调用幂等
	MarkSeen(ctx context.Context, fingerprint, source string, seenAt time.Time) error
	// FilterNew 批量判重，返回每个入参指纹是否为新
	FilterNew(ctx context.Context, fingerprints []string) (map[string]bool, error)

	SaveReport(ctx context.Context, rec *ReportRecord) error
	// RecentReports 按完成时间倒序返回报告，source 为空表示不过滤
	RecentReports(ctx context.Context, source string, limit int) ([]ReportRecord, error)

	Close() error
}
