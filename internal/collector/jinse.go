package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	jinseDefaultListURL   = "https://api.jinse.cn/noah/v2/news?limit=20"
	jinseDefaultDetailURL = "https://api.jinse.cn/noah/v1/articles/%d"
	jinseMaxItems         = 20
	jinseMaxResponseBytes = 4 << 20 // 4MB
	jinseConcurrency      = 5
	jinseClientTimeout    = 15 * time.Second
)

// JinseOptions 金色财经快讯源配置，零值用默认线上接口
type JinseOptions struct {
	ListURL string
	// DetailURL 详情接口，带 %d 占位填文章 ID
	DetailURL string
	MaxItems  int
	Timeout   time.Duration
	UserAgent string
}

// JinseFetcher 先拉快讯列表再并发补详情，详情失败退回列表摘要
type JinseFetcher struct {
	opts   JinseOptions
	client *http.Client
	log    *zap.SugaredLogger
}

func NewJinseFetcher(opts JinseOptions, log *zap.SugaredLogger) *JinseFetcher {
	if opts.ListURL == "" {
		opts.ListURL = jinseDefaultListURL
	}
	if opts.DetailURL == "" {
		opts.DetailURL = jinseDefaultDetailURL
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = jinseMaxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = jinseClientTimeout
	}
	return &JinseFetcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    log,
	}
}

func (f *JinseFetcher) Name() string {
	return "jinse"
}

type jinseListResp struct {
	List []jinseNewsItem `json:"list"`
}

type jinseNewsItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	PublishedAt  int64  `json:"published_at"`
	JumpURL      string `json:"jump_url"`
	ThumbnailPic string `json:"thumbnail_pic"`
	Author       struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
}

type jinseDetailResp struct {
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

func (f *JinseFetcher) Fetch(ctx context.Context) ([]RawArticle, error) {
	var list jinseListResp
	if err := f.getJSON(ctx, f.opts.ListURL, &list); err != nil {
		return nil, fmt.Errorf("jinse: fetch list: %w", err)
	}

	items := list.List
	if len(items) > f.opts.MaxItems {
		items = items[:f.opts.MaxItems]
	}

	type indexed struct {
		idx int
		raw RawArticle
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, jinseConcurrency)
		results = make([]indexed, 0, len(items))
	)

	for i, it := range items {
		if it.JumpURL == "" || it.Title == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, it jinseNewsItem) {
			defer wg.Done()
			defer func() { <-sem }()

			raw := RawArticle{
				Source:  f.Name(),
				URL:     it.JumpURL,
				Title:   it.Title,
				Summary: it.Summary,
				Content: it.Summary,
				Author:  it.Author.Nickname,
				RawData: map[string]any{"jinse_id": it.ID},
			}
			if it.PublishedAt > 0 {
				raw.PublishedAt = time.Unix(it.PublishedAt, 0)
			}
			if it.ThumbnailPic != "" {
				raw.ImageURLs = append(raw.ImageURLs, it.ThumbnailPic)
			}

			var detail jinseDetailResp
			if err := f.getJSON(ctx, fmt.Sprintf(f.opts.DetailURL, it.ID), &detail); err != nil {
				// 详情挂了不丢整条，退回列表里的摘要
				f.log.Debugf("jinse: fetch detail %d: %v", it.ID, err)
			} else {
				if detail.Content != "" {
					raw.Content = detail.Content
				}
				raw.ImageURLs = append(raw.ImageURLs, detail.Images...)
			}

			mu.Lock()
			results = append(results, indexed{idx: idx, raw: raw})
			mu.Unlock()
		}(i, it)
	}
	wg.Wait()

	// 恢复列表原始顺序
	sort.Slice(results, func(a, b int) bool { return results[a].idx < results[b].idx })

	out := make([]RawArticle, 0, len(results))
	for _, r := range results {
		out = append(out, r.raw)
	}
	if len(out) == 0 {
		f.log.Infof("jinse: no items fetched")
	}
	return out, nil
}

func (f *JinseFetcher) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, jinseMaxResponseBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
