package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/LJTian/NewsRelay/internal/processor"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Status 单篇文章的投递结论
type Status string

const (
	// StatusDelivered 下游已接收，指纹应立即登记
	StatusDelivered Status = "delivered"
	// StatusRejected 下游明确拒绝，不再重试，指纹同样登记
	StatusRejected Status = "rejected"
	// StatusRetryable 瞬时失败，指纹不登记，等下一轮重新投递
	StatusRetryable Status = "retryable"
)

// Outcome 一篇文章的投递结果，Attempts 是文章接口实际发出的请求数
type Outcome struct {
	Status   Status
	Reason   string
	Attempts int
}

const (
	defaultTimeout     = 20 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = time.Second

	maxImageBytes       = 10 << 20 // 10MB
	maxImagesPerArticle = 10
	maxResponseBytes    = 1 << 20
)

// Options 下游内容 API 客户端配置
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	// Timeout 单次 HTTP 调用超时
	Timeout time.Duration
	// MaxAttempts 同一请求的最大尝试次数
	MaxAttempts int
	// BaseBackoff 重试退避基数，按 2 的幂递增
	BaseBackoff time.Duration
	// ArticleDelay 相邻两篇投递之间的最小间隔
	ArticleDelay time.Duration
}

// Client 把规范化后的文章推送到下游内容 API。
// 配图先转存到下游图床再发文章，任何一张失败整篇按瞬时失败处理。
type Client struct {
	baseURL     string
	apiKey      string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	log         *zap.SugaredLogger
}

func NewClient(opts Options, log *zap.SugaredLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	var limiter *rate.Limiter
	if opts.ArticleDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.ArticleDelay), 1)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		userAgent:   opts.UserAgent,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		log:         log,
	}
}

// Deliver 推送一篇文章。先把全部配图转存到下游，任何一张失败都按瞬时失败返回，
// 不发出只有半套图的文章；图全部就位后再调文章接口。
func (c *Client) Deliver(ctx context.Context, art processor.Article) Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{Status: StatusRetryable, Reason: fmt.Sprintf("rate wait: %v", err)}
		}
	}

	images := art.Images
	if len(images) > maxImagesPerArticle {
		images = images[:maxImagesPerArticle]
	}

	hosted := make([]string, 0, len(images))
	for _, src := range images {
		hostedURL, err := c.relayImage(ctx, src)
		if err != nil {
			c.log.Warnf("relay image %s: %v", src, err)
			return Outcome{Status: StatusRetryable, Reason: fmt.Sprintf("relay image: %v", err)}
		}
		hosted = append(hosted, hostedURL)
	}

	return c.postArticle(ctx, buildPayload(art, hosted))
}

func (c *Client) postArticle(ctx context.Context, payload newsPost) Outcome {
	build := func() (*http.Request, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(requestContext(ctx), http.MethodPost,
			c.baseURL+"/api/v1/news-posts", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req)
		return req, nil
	}

	status, body, attempts, err := c.doWithRetry(ctx, build)
	if err != nil {
		return Outcome{Status: StatusRetryable, Reason: err.Error(), Attempts: attempts}
	}
	switch {
	case status >= 200 && status < 300:
		return Outcome{Status: StatusDelivered, Attempts: attempts}
	case retryableStatus(status):
		return Outcome{Status: StatusRetryable, Reason: httpReason(status, body), Attempts: attempts}
	case status >= 400 && status < 500:
		return Outcome{Status: StatusRejected, Reason: httpReason(status, body), Attempts: attempts}
	default:
		// 下游不应返回 1xx/3xx，按瞬时失败处理
		return Outcome{Status: StatusRetryable, Reason: httpReason(status, body), Attempts: attempts}
	}
}

// relayImage 把原站图片搬到下游图床，返回下游可用地址
func (c *Client) relayImage(ctx context.Context, src string) (string, error) {
	data, err := c.downloadImage(ctx, src)
	if err != nil {
		return "", err
	}
	filename := imageFilename(src)

	build := func() (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		hdr.Set("Content-Type", mimeByExtension(filename))
		part, err := mw.CreatePart(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(requestContext(ctx), http.MethodPost,
			c.baseURL+"/api/v1/images", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.setHeaders(req)
		return req, nil
	}

	status, body, _, err := c.doWithRetry(ctx, build)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("upload %s: %s", filename, httpReason(status, body))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("upload %s: decode response: %w", filename, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload %s: response missing url", filename)
	}
	return out.URL, nil
}

func (c *Client) downloadImage(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(requestContext(ctx), http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", src, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", src, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty body", src)
	}
	return data, nil
}

// doWithRetry 对瞬时失败做指数退避重试，成功与永久失败立即返回。
// 返回最后一次的状态码、响应体与实际发出的请求数。
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (int, []byte, int, error) {
	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
	)
	attempts := 0
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.baseBackoff<<(attempt-1)); err != nil {
				return lastStatus, lastBody, attempts, err
			}
		}

		req, err := build()
		if err != nil {
			return 0, nil, attempts, err
		}

		attempts++
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastStatus, lastBody, lastErr = 0, nil, err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if err != nil {
			lastStatus, lastBody, lastErr = 0, nil, err
			continue
		}
		if retryableStatus(resp.StatusCode) && attempt < c.maxAttempts-1 {
			lastStatus, lastBody, lastErr = resp.StatusCode, body, nil
			continue
		}
		return resp.StatusCode, body, attempts, nil
	}
	return lastStatus, lastBody, attempts, lastErr
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// requestContext 剥离上游取消信号。停止请求只在两篇文章之间生效，
// 已经发出的调用交给客户端超时收尾，不会卡死也不会半途而废。
func requestContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// retryableStatus 判定瞬时失败：限流、请求超时与所有 5xx
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	}
	return false
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func httpReason(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, msg)
}

type imagePayload struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Type    string `json:"type"`
}

type newsPost struct {
	Title          string            `json:"title"`
	SourceName     string            `json:"sourceName"`
	SourceURL      string            `json:"sourceUrl"`
	SourceDate     string            `json:"sourceDate"`
	Creator        string            `json:"creator,omitempty"`
	ThumbnailImage string            `json:"thumbnailImage,omitempty"`
	Content        map[string]string `json:"content"`
	ImagesURL      []imagePayload    `json:"imagesUrl"`
	Tags           []string          `json:"tags"`
	Status         string            `json:"status"`
}

func buildPayload(art processor.Article, hosted []string) newsPost {
	content := map[string]string{"text": art.Content}
	if art.Summary != "" {
		content["summary"] = art.Summary
	}

	images := make([]imagePayload, 0, len(hosted))
	for _, u := range hosted {
		images = append(images, imagePayload{URL: u, Type: "figure"})
	}

	post := newsPost{
		Title:      art.Title,
		SourceName: art.Source,
		SourceURL:  art.URL,
		SourceDate: art.PublishedAt.UTC().Format(time.RFC3339),
		Creator:    art.Author,
		Content:    content,
		ImagesURL:  images,
		Tags:       []string{art.Source},
		Status:     "draft",
	}
	if len(images) > 0 {
		post.ThumbnailImage = images[0].URL
	}
	return post
}

// 与下游图床约定的类型映射，未知扩展按 jpeg 处理
var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

func mimeByExtension(filename string) string {
	if mt, ok := imageMIMETypes[strings.ToLower(path.Ext(filename))]; ok {
		return mt
	}
	return "image/jpeg"
}

func imageFilename(src string) string {
	name := ""
	if u, err := url.Parse(src); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "image.jpg"
	}
	if path.Ext(name) == "" {
		name += ".jpg"
	}
	return name
}
