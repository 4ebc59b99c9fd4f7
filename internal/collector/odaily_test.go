package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LJTian/NewsRelay/internal/logger"
)

const odailyListingHTML = `<html><body>
<a href="/post/1">文章一</a>
<a href="/post/2">文章二</a>
<a href="/post/1">重复链接</a>
<a href="/about">关于我们</a>
</body></html>`

const odailyArticleHTML = `<html><body>
<article>
  <h1>比特币重返高位</h1>
  <span class="author-name">记者甲</span>
  <time datetime="2024-05-01T08:00:00Z">2024-05-01</time>
  <p>第一段。</p>
  <p>第二段。</p>
  <img src="/static/cover.png">
  <img data-src="/static/lazy.png">
</article>
</body></html>`

func odailyTestServer(t *testing.T, articleStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(odailyListingHTML))
	})
	mux.HandleFunc("/post/", func(w http.ResponseWriter, r *http.Request) {
		if articleStatus != http.StatusOK {
			http.Error(w, "gone", articleStatus)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(odailyArticleHTML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOdailyFetcherParsesArticles(t *testing.T) {
	srv := odailyTestServer(t, http.StatusOK)

	f := NewOdailyFetcher(OdailyOptions{BaseURL: srv.URL}, logger.Nop())
	raws, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 articles after link dedup, got %d", len(raws))
	}

	art := raws[0]
	if art.Title != "比特币重返高位" {
		t.Errorf("unexpected title: %q", art.Title)
	}
	if art.Author != "记者甲" {
		t.Errorf("unexpected author: %q", art.Author)
	}
	if art.Content != "第一段。\n\n第二段。" {
		t.Errorf("unexpected content: %q", art.Content)
	}
	if art.PublishedAt.IsZero() {
		t.Error("datetime attribute should be parsed")
	}
	if len(art.ImageURLs) != 2 {
		t.Errorf("expected src and data-src images, got %v", art.ImageURLs)
	}
	for _, img := range art.ImageURLs {
		if img != srv.URL+"/static/cover.png" && img != srv.URL+"/static/lazy.png" {
			t.Errorf("image not resolved to absolute url: %q", img)
		}
	}
	if art.URL != srv.URL+"/post/1" {
		t.Errorf("unexpected article url: %q", art.URL)
	}
}

func TestOdailyFetcherMaxItems(t *testing.T) {
	srv := odailyTestServer(t, http.StatusOK)

	f := NewOdailyFetcher(OdailyOptions{BaseURL: srv.URL, MaxItems: 1}, logger.Nop())
	raws, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("max items not enforced, got %d", len(raws))
	}
}

func TestOdailyFetcherAllArticlesFailed(t *testing.T) {
	srv := odailyTestServer(t, http.StatusNotFound)

	f := NewOdailyFetcher(OdailyOptions{BaseURL: srv.URL}, logger.Nop())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected error when every article page fails")
	}
}
