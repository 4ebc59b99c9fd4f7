package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/NewsRelay/internal/logger"
	"github.com/LJTian/NewsRelay/internal/processor"
)

func testClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		UserAgent:   "NewsRelayBot/test",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, logger.Nop())
}

func sampleArticle() processor.Article {
	return processor.Article{
		Fingerprint: "0000000000000000000000000000000000000000",
		Source:      "jinse",
		URL:         "https://www.jinse.cn/news/12345.html",
		Title:       "比特币短时突破新高",
		Summary:     "行情快讯",
		Content:     "据行情数据，比特币短时突破新高。",
		Author:      "金色财经",
		PublishedAt: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
	}
}

func TestDeliverPostsArticle(t *testing.T) {
	var got newsPost
	var gotKey, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/news-posts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotKey = r.Header.Get("X-API-Key")
		gotUA = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	out := testClient(srv.URL).Deliver(context.Background(), sampleArticle())
	if out.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s (%s)", out.Status, out.Reason)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", out.Attempts)
	}
	if gotKey != "test-key" {
		t.Errorf("expected X-API-Key header, got %q", gotKey)
	}
	if gotUA != "NewsRelayBot/test" {
		t.Errorf("expected User-Agent header, got %q", gotUA)
	}
	if got.Title != "比特币短时突破新高" {
		t.Errorf("unexpected title: %q", got.Title)
	}
	if got.SourceName != "jinse" {
		t.Errorf("unexpected sourceName: %q", got.SourceName)
	}
	if got.SourceURL != "https://www.jinse.cn/news/12345.html" {
		t.Errorf("unexpected sourceUrl: %q", got.SourceURL)
	}
	if got.SourceDate != "2024-05-01T08:30:00Z" {
		t.Errorf("unexpected sourceDate: %q", got.SourceDate)
	}
	if got.Content["text"] == "" || got.Content["summary"] != "行情快讯" {
		t.Errorf("unexpected content: %v", got.Content)
	}
	if got.Status != "draft" {
		t.Errorf("expected draft status, got %q", got.Status)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "jinse" {
		t.Errorf("unexpected tags: %v", got.Tags)
	}
}

func TestDeliverRejectedOnClientError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"error":"title already exists"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	out := testClient(srv.URL).Deliver(context.Background(), sampleArticle())
	if out.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", out.Status)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", out.Attempts)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
	if out.Reason == "" {
		t.Fatal("expected a reason for rejection")
	}
}

func TestDeliverRetryableAfterExhaustedAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := testClient(srv.URL).Deliver(context.Background(), sampleArticle())
	if out.Status != StatusRetryable {
		t.Fatalf("expected retryable, got %s", out.Status)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}
}

func TestDeliverRecoversFromRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := testClient(srv.URL).Deliver(context.Background(), sampleArticle())
	if out.Status != StatusDelivered {
		t.Fatalf("expected delivered after retry, got %s (%s)", out.Status, out.Reason)
	}
	if out.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", out.Attempts)
	}
}

func TestDeliverImageFailureSkipsArticle(t *testing.T) {
	var articleHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/news-posts" {
			atomic.AddInt32(&articleHits, 1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		// 原站图片一律 404
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	art := sampleArticle()
	art.Images = []string{srv.URL + "/images/cover.png"}

	out := testClient(srv.URL).Deliver(context.Background(), art)
	if out.Status != StatusRetryable {
		t.Fatalf("expected retryable when image fails, got %s", out.Status)
	}
	if n := atomic.LoadInt32(&articleHits); n != 0 {
		t.Fatalf("article endpoint should not be hit, got %d requests", n)
	}
}

func TestDeliverRelaysImagesBeforeArticle(t *testing.T) {
	const hostedURL = "https://cdn.example.com/2024/cover.png"
	imgBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	var got newsPost
	var uploadedName string
	var uploadedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/origin/cover.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(imgBytes)
		case "/api/v1/images":
			f, fh, err := r.FormFile("file")
			if err != nil {
				t.Errorf("missing multipart file: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer f.Close()
			uploadedName = fh.Filename
			uploadedBody, _ = io.ReadAll(f)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"url": hostedURL})
		case "/api/v1/news-posts":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	art := sampleArticle()
	art.Images = []string{srv.URL + "/origin/cover.png"}

	out := testClient(srv.URL).Deliver(context.Background(), art)
	if out.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s (%s)", out.Status, out.Reason)
	}
	if uploadedName != "cover.png" {
		t.Errorf("unexpected upload filename: %q", uploadedName)
	}
	if string(uploadedBody) != string(imgBytes) {
		t.Errorf("uploaded bytes do not match origin image")
	}
	if len(got.ImagesURL) != 1 || got.ImagesURL[0].URL != hostedURL {
		t.Errorf("expected hosted image in payload, got %v", got.ImagesURL)
	}
	if got.ThumbnailImage != hostedURL {
		t.Errorf("expected thumbnail %q, got %q", hostedURL, got.ThumbnailImage)
	}
}

func TestRetryableStatus(t *testing.T) {
	cases := map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusNotFound:            false,
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
	}
	for status, want := range cases {
		if got := retryableStatus(status); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestImageFilename(t *testing.T) {
	cases := map[string]string{
		"https://img.jinse.cn/pic/photo.png":     "photo.png",
		"https://img.jinse.cn/pic/photo.png?x=1": "photo.png",
		"https://img.jinse.cn/":                  "image.jpg",
		"https://img.jinse.cn/pic/noext":         "noext.jpg",
	}
	for src, want := range cases {
		if got := imageFilename(src); got != want {
			t.Errorf("imageFilename(%q) = %q, want %q", src, got, want)
		}
	}
}
