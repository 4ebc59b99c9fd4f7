package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/LJTian/NewsRelay/internal/collector"
)

// Article 规范化后的文章，Fingerprint 是跨轮次的全局去重键
type Article struct {
	Fingerprint string
	Source      string
	// URL 规范化后的文章地址
	URL     string
	Title   string
	Summary string
	Content string
	Author  string
	// PublishedAt 统一为 UTC
	PublishedAt time.Time
	// Images 解析为绝对地址后的配图
	Images  []string
	RawData map[string]any
}

var (
	ErrMissingSource = errors.New("processor: missing source name")
	ErrMissingTitle  = errors.New("processor: missing title")
)

const (
	maxTitleRunes   = 256
	maxSummaryRunes = 300
	maxImages       = 10
)

// trackingParams 常见跟踪参数，参与指纹前先剔除
var trackingParams = map[string]struct{}{
	"ref":    {},
	"fbclid": {},
	"gclid":  {},
	"igshid": {},
	"spm":    {},
	"from":   {},
}

// Normalizer 把 RawArticle 清洗为 Article，无法修复的候选返回错误由上层丢弃
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

func (n *Normalizer) Normalize(raw collector.RawArticle) (Article, error) {
	source := strings.TrimSpace(raw.Source)
	if source == "" {
		return Article{}, ErrMissingSource
	}

	// 站点偶尔给出空标题，先从摘要或正文里抢救一行
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = deriveTitle(raw.Summary, raw.Content)
	}
	if title == "" {
		return Article{}, fmt.Errorf("%w: %q", ErrMissingTitle, raw.URL)
	}

	// 链接无法规范化时退化为 URL+标题 指纹，这类文章仍可判重
	canonical := CanonicalURL(raw.URL)
	articleURL := canonical
	fingerprint := ""
	if canonical != "" {
		fingerprint = Fingerprint(source, canonical)
	} else {
		articleURL = strings.TrimSpace(raw.URL)
		fingerprint = fallbackFingerprint(source, articleURL, title)
	}

	published := raw.PublishedAt
	if published.IsZero() {
		published = n.now()
	}

	content := strings.TrimSpace(raw.Content)
	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		summary = truncateRunes(content, maxSummaryRunes)
	}

	return Article{
		Fingerprint: fingerprint,
		Source:      source,
		URL:         articleURL,
		Title:       truncateRunes(title, maxTitleRunes),
		Summary:     summary,
		Content:     content,
		Author:      strings.TrimSpace(raw.Author),
		PublishedAt: published.UTC(),
		Images:      resolveImages(articleURL, raw.ImageURLs),
		RawData:     raw.RawData,
	}, nil
}

// CanonicalURL 规范化文章链接：统一大小写、去掉锚点与跟踪参数、参数按 key 排序，
// 让同一篇文章的不同展示链接收敛到同一个指纹。无法解析时返回空串。
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}

	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			q.Del(key)
		}
	}
	// Encode 按 key 排序，参数顺序不再影响指纹
	u.RawQuery = q.Encode()

	return u.String()
}

// Fingerprint 由来源名与规范化链接生成全局去重键
func Fingerprint(source, canonicalURL string) string {
	h := sha1.New()
	h.Write([]byte(source))
	h.Write([]byte{'\n'})
	h.Write([]byte(canonicalURL))
	return hex.EncodeToString(h.Sum(nil))
}

// fallbackFingerprint 链接缺失或无法解析时的退化指纹，标题一并参与散列
func fallbackFingerprint(source, rawURL, title string) string {
	h := sha1.New()
	h.Write([]byte(source))
	h.Write([]byte{'\n'})
	h.Write([]byte(rawURL))
	h.Write([]byte{'\n'})
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))
}

// deriveTitle 从摘要或正文的第一行里取一个可用标题
func deriveTitle(summary, content string) string {
	for _, s := range []string{summary, content} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = strings.TrimSpace(s[:idx])
		}
		if s != "" {
			return truncateRunes(s, 120)
		}
	}
	return ""
}

// resolveImages 把配图解析为绝对地址并去重，非 http(s) 的一律丢弃
func resolveImages(articleURL string, images []string) []string {
	if len(images) == 0 {
		return nil
	}
	base, err := url.Parse(articleURL)
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(images))
	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" || strings.HasPrefix(img, "data:") {
			continue
		}
		ref, err := url.Parse(img)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		s := resolved.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) >= maxImages {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// truncateRunes 按 rune 数截断，超长时末尾补省略号，避免中文被截成半个字符
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
