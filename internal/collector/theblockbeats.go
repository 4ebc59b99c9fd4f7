package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	blockbeatsDefaultListURL = "https://api.theblockbeats.news/v1/open-api/open-information"
	blockbeatsMaxItems       = 20
	blockbeatsMaxRespBytes   = 4 << 20 // 4MB
	blockbeatsClientTimeout  = 15 * time.Second
)

// BlockbeatsOptions 律动开放接口配置，零值用默认线上接口
type BlockbeatsOptions struct {
	ListURL   string
	MaxItems  int
	Timeout   time.Duration
	UserAgent string
}

// BlockbeatsFetcher 走律动的开放接口拿列表。接口给的正文是不完整的 HTML，
// 配了浏览器侧车时逐篇渲染原文页取全文，没配或渲染失败就用接口正文剥标签兜底。
type BlockbeatsFetcher struct {
	opts    BlockbeatsOptions
	client  *http.Client
	browser *BrowserClient
	log     *zap.SugaredLogger
}

func NewBlockbeatsFetcher(opts BlockbeatsOptions, browser *BrowserClient, log *zap.SugaredLogger) *BlockbeatsFetcher {
	if opts.ListURL == "" {
		opts.ListURL = blockbeatsDefaultListURL
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = blockbeatsMaxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = blockbeatsClientTimeout
	}
	return &BlockbeatsFetcher{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		browser: browser,
		log:     log,
	}
}

func (f *BlockbeatsFetcher) Name() string {
	return "theblockbeats"
}

type blockbeatsResp struct {
	Code int    `json:"code"`
	Msg  string `json:"message"`
	Data struct {
		Data []blockbeatsItem `json:"data"`
	} `json:"data"`
}

type blockbeatsItem struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Pic        string `json:"pic"`
	Link       string `json:"link"`
	CreateTime string `json:"create_time"`
}

func (f *BlockbeatsFetcher) Fetch(ctx context.Context) ([]RawArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.ListURL, nil)
	if err != nil {
		return nil, err
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("theblockbeats: fetch list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("theblockbeats: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, blockbeatsMaxRespBytes))
	if err != nil {
		return nil, fmt.Errorf("theblockbeats: read list: %w", err)
	}

	var list blockbeatsResp
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("theblockbeats: unmarshal list: %w", err)
	}
	if list.Code != 0 {
		return nil, fmt.Errorf("theblockbeats: api code %d: %s", list.Code, list.Msg)
	}

	items := list.Data.Data
	if len(items) > f.opts.MaxItems {
		items = items[:f.opts.MaxItems]
	}

	results := make([]RawArticle, 0, len(items))
	for _, it := range items {
		if it.Link == "" || it.Title == "" {
			continue
		}
		raw := RawArticle{
			Source:  f.Name(),
			URL:     it.Link,
			Title:   it.Title,
			Summary: stripHTML(it.Content),
			Content: stripHTML(it.Content),
		}
		if ts, err := strconv.ParseInt(it.CreateTime, 10, 64); err == nil && ts > 0 {
			raw.PublishedAt = time.Unix(ts, 0)
		}
		if it.Pic != "" {
			raw.ImageURLs = append(raw.ImageURLs, it.Pic)
		}

		f.enrich(ctx, &raw)
		results = append(results, raw)
	}
	if len(results) == 0 {
		f.log.Infof("theblockbeats: no items fetched")
	}
	return results, nil
}

// enrich 有侧车就渲染原文页补全正文，失败保留接口给的内容
func (f *BlockbeatsFetcher) enrich(ctx context.Context, raw *RawArticle) {
	if f.browser == nil {
		return
	}
	ex, err := f.browser.Extract(ctx, raw.URL)
	if err != nil {
		f.log.Debugf("theblockbeats: browser extract %s: %v", raw.URL, err)
		return
	}
	if ex.Text != "" {
		raw.Content = ex.Text
	}
	if ex.Title != "" {
		raw.Title = ex.Title
	}
	raw.ImageURLs = append(raw.ImageURLs, ex.Images...)
}
