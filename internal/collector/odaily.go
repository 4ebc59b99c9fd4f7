package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	odailyDefaultURL    = "https://www.odaily.news"
	odailyMaxItems      = 15
	odailyClientTimeout = 20 * time.Second
	odailyPageDelay     = 300 * time.Millisecond
)

// OdailyOptions 星球日报站点配置，零值用默认线上站点
type OdailyOptions struct {
	BaseURL   string
	MaxItems  int
	Timeout   time.Duration
	UserAgent string
}

// OdailyFetcher 先抓首页文章链接，再逐篇进详情页解析正文。
// 站点没有开放接口，页面结构调整时解析是尽力而为。
type OdailyFetcher struct {
	opts OdailyOptions
	log  *zap.SugaredLogger
}

func NewOdailyFetcher(opts OdailyOptions, log *zap.SugaredLogger) *OdailyFetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = odailyDefaultURL
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = odailyMaxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = odailyClientTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "NewsRelayBot/1.0"
	}
	return &OdailyFetcher{opts: opts, log: log}
}

func (f *OdailyFetcher) Name() string {
	return "odaily"
}

func (f *OdailyFetcher) Fetch(ctx context.Context) ([]RawArticle, error) {
	links, err := f.fetchListing()
	if err != nil {
		return nil, fmt.Errorf("odaily: fetch listing: %w", err)
	}
	if len(links) == 0 {
		f.log.Infof("odaily: listing has no post links")
		return nil, nil
	}

	results := make([]RawArticle, 0, len(links))
	failed := 0
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		raw, err := f.fetchArticle(link)
		if err != nil {
			failed++
			f.log.Debugf("odaily: fetch article %s: %v", link, err)
			continue
		}
		results = append(results, raw)
	}
	if len(results) == 0 && failed > 0 {
		return nil, fmt.Errorf("odaily: all %d article pages failed", failed)
	}
	return results, nil
}

func (f *OdailyFetcher) fetchListing() ([]string, error) {
	c := f.newCollector()

	seen := make(map[string]struct{})
	links := make([]string, 0, f.opts.MaxItems)
	c.OnHTML("a[href*='/post/']", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		if len(links) < f.opts.MaxItems {
			links = append(links, link)
		}
	})

	if err := c.Visit(f.opts.BaseURL); err != nil {
		return nil, err
	}
	return links, nil
}

func (f *OdailyFetcher) fetchArticle(link string) (RawArticle, error) {
	c := f.newCollector()

	raw := RawArticle{Source: f.Name(), URL: link}
	found := false
	c.OnHTML("article, div.article-detail, div.post-content", func(e *colly.HTMLElement) {
		if found {
			return
		}
		found = true

		raw.Title = strings.TrimSpace(e.ChildText("h1"))
		raw.Summary = strings.TrimSpace(e.ChildText("div[class*='summary'], p[class*='summary']"))
		raw.Author = strings.TrimSpace(e.ChildText("span[class*='author'], a[class*='author']"))

		if ts := e.ChildAttr("time", "datetime"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				raw.PublishedAt = t
			}
		}

		var paras []string
		e.DOM.Find("p").Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				paras = append(paras, t)
			}
		})
		raw.Content = strings.Join(paras, "\n\n")

		imgSeen := make(map[string]struct{})
		e.DOM.Find("img").Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || src == "" {
				src, _ = s.Attr("data-src")
			}
			if src == "" {
				return
			}
			abs := e.Request.AbsoluteURL(src)
			if abs == "" {
				return
			}
			if _, dup := imgSeen[abs]; dup {
				return
			}
			imgSeen[abs] = struct{}{}
			raw.ImageURLs = append(raw.ImageURLs, abs)
		})
	})

	if err := c.Visit(link); err != nil {
		return RawArticle{}, err
	}
	if !found {
		return RawArticle{}, fmt.Errorf("no article body in %s", link)
	}
	return raw, nil
}

func (f *OdailyFetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.AllowedDomains(f.allowedHosts()...),
		colly.UserAgent(f.opts.UserAgent),
	)
	c.SetRequestTimeout(f.opts.Timeout)
	c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: odailyPageDelay})
	return c
}

// allowedHosts 按配置地址推导白名单，带不带 www 都放行
func (f *OdailyFetcher) allowedHosts() []string {
	u, err := url.Parse(f.opts.BaseURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := u.Hostname()
	bare := strings.TrimPrefix(host, "www.")
	if bare == host {
		return []string{host, "www." + host}
	}
	return []string{host, bare}
}
