package collector

import (
	"context"
	"sync"
	"time"
)

// RawArticle 各站点采集到的原始文章，未做清洗，由 processor 统一规范化
type RawArticle struct {
	Source  string
	URL     string
	Title   string
	Summary string
	Content string
	Author  string
	// 站点未提供发布时间时保持零值，processor 会用抓取时间兜底
	PublishedAt time.Time
	// ImageURLs 原站配图地址，可能是相对路径
	ImageURLs []string
	RawData   map[string]any
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]RawArticle, error)
}

// Registry 按名称持有启用的数据源，遍历顺序与注册顺序一致
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register 注册一个数据源，同名覆盖旧实现
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := f.Name()
	if _, ok := r.fetchers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.fetchers[name] = f
}

func (r *Registry) Get(name string) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[name]
	return f, ok
}

// Names 返回全部已注册数据源的名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
