package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	browserClientTimeout   = 30 * time.Second
	browserExtractMaxChars = 6000
)

// ExtractResult 浏览器侧车渲染页面后提取到的内容
type ExtractResult struct {
	Title  string
	Text   string
	Images []string
}

// BrowserClient 调 browser-scraper 侧车，用来抓必须跑 JS 才出正文的页面
type BrowserClient struct {
	addr   string
	client *http.Client
}

func NewBrowserClient(addr string) *BrowserClient {
	return &BrowserClient{
		addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: browserClientTimeout},
	}
}

type extractRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type extractResponse struct {
	OK     bool     `json:"ok"`
	Title  string   `json:"title,omitempty"`
	Text   string   `json:"text,omitempty"`
	Images []string `json:"images,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (b *BrowserClient) Extract(ctx context.Context, pageURL string) (*ExtractResult, error) {
	body, err := json.Marshal(extractRequest{URL: pageURL, MaxChars: browserExtractMaxChars})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.addr+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out extractResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode extract response: %w", err)
	}
	if !out.OK {
		if out.Error == "" {
			out.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("extract %s: %s", pageURL, out.Error)
	}
	return &ExtractResult{Title: out.Title, Text: out.Text, Images: out.Images}, nil
}
