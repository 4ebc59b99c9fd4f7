package collector

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const (
	panewsDefaultFeedURL = "https://rss.panewslab.com/zh/news/rss"
	panewsMaxItems       = 30
	panewsMaxAge         = 48 * time.Hour
	panewsClientTimeout  = 15 * time.Second
)

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
	imgSrcPattern  = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
)

// PanewsOptions PANews RSS 源配置，零值用默认官方订阅地址
type PanewsOptions struct {
	FeedURL  string
	MaxItems int
	// MaxAge 超过该时长的旧条目直接跳过，零值用默认 48h
	MaxAge    time.Duration
	Timeout   time.Duration
	UserAgent string
}

// PanewsFetcher 订阅 PANews 的 RSS，RSS 正文是 HTML，这里剥掉标签只留纯文本
type PanewsFetcher struct {
	opts   PanewsOptions
	parser *gofeed.Parser
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewPanewsFetcher(opts PanewsOptions, log *zap.SugaredLogger) *PanewsFetcher {
	if opts.FeedURL == "" {
		opts.FeedURL = panewsDefaultFeedURL
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = panewsMaxItems
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = panewsMaxAge
	}
	if opts.Timeout <= 0 {
		opts.Timeout = panewsClientTimeout
	}
	parser := gofeed.NewParser()
	if opts.UserAgent != "" {
		parser.UserAgent = opts.UserAgent
	}
	return &PanewsFetcher{opts: opts, parser: parser, log: log, now: time.Now}
}

func (f *PanewsFetcher) Name() string {
	return "panews"
}

func (f *PanewsFetcher) Fetch(ctx context.Context) ([]RawArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(f.opts.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("panews: parse feed: %w", err)
	}

	cutoff := f.now().Add(-f.opts.MaxAge)
	results := make([]RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(results) >= f.opts.MaxItems {
			break
		}
		if item.Link == "" || item.Title == "" {
			continue
		}

		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if !published.IsZero() && published.Before(cutoff) {
			continue
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		raw := RawArticle{
			Source:      f.Name(),
			URL:         item.Link,
			Title:       strings.TrimSpace(item.Title),
			Summary:     stripHTML(item.Description),
			Content:     stripHTML(content),
			PublishedAt: published,
			ImageURLs:   feedImageURLs(item, content),
		}
		if item.Author != nil {
			raw.Author = item.Author.Name
		}
		if len(item.Categories) > 0 {
			raw.RawData = map[string]any{"categories": item.Categories}
		}
		results = append(results, raw)
	}
	if len(results) == 0 {
		f.log.Infof("panews: feed has no usable items")
	}
	return results, nil
}

// stripHTML 去标签并还原实体，段落间距压成单个空格
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// feedImageURLs 汇总 enclosure、item 主图和正文里的 img 标签
func feedImageURLs(item *gofeed.Item, content string) []string {
	var urls []string
	for _, enc := range item.Enclosures {
		if enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			urls = append(urls, enc.URL)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		urls = append(urls, item.Image.URL)
	}
	for _, m := range imgSrcPattern.FindAllStringSubmatch(content, -1) {
		if len(m) > 1 {
			urls = append(urls, m[1])
		}
	}

	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
