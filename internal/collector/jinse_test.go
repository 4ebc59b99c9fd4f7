package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LJTian/NewsRelay/internal/logger"
)

func TestJinseFetcherMergesDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"list":[
			{"id":1,"title":"比特币快讯","summary":"摘要一","published_at":1714550400,
			 "jump_url":"https://www.jinse.cn/news/1.html","thumbnail_pic":"https://img.jinse.cn/1.jpg",
			 "author":{"nickname":"小编"}},
			{"id":2,"title":"以太坊快讯","summary":"摘要二","published_at":1714550500,
			 "jump_url":"https://www.jinse.cn/news/2.html"},
			{"id":3,"title":"没有链接的快讯","summary":"摘要三"}
		]}`))
	})
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		// 慢一点，确认结果仍按列表顺序返回
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"完整正文一","images":["https://img.jinse.cn/body1.png"]}`))
	})
	mux.HandleFunc("/detail/2", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewJinseFetcher(JinseOptions{
		ListURL:   srv.URL + "/news",
		DetailURL: srv.URL + "/detail/%d",
	}, logger.Nop())

	raws, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 articles (one has no url), got %d", len(raws))
	}

	first := raws[0]
	if first.URL != "https://www.jinse.cn/news/1.html" {
		t.Fatalf("list order not preserved: %+v", raws)
	}
	if first.Content != "完整正文一" {
		t.Errorf("detail content not merged: %q", first.Content)
	}
	if first.Author != "小编" {
		t.Errorf("unexpected author: %q", first.Author)
	}
	if len(first.ImageURLs) != 2 {
		t.Errorf("expected thumbnail + detail image, got %v", first.ImageURLs)
	}
	if first.PublishedAt.IsZero() {
		t.Error("published_at should be set")
	}

	second := raws[1]
	if second.Content != "摘要二" {
		t.Errorf("detail failure should fall back to summary, got %q", second.Content)
	}
}

func TestJinseFetcherMaxItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list":[
			{"id":1,"title":"一","jump_url":"https://www.jinse.cn/news/1.html"},
			{"id":2,"title":"二","jump_url":"https://www.jinse.cn/news/2.html"},
			{"id":3,"title":"三","jump_url":"https://www.jinse.cn/news/3.html"}
		]}`))
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"正文"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewJinseFetcher(JinseOptions{
		ListURL:   srv.URL + "/news",
		DetailURL: srv.URL + "/detail/%d",
		MaxItems:  2,
	}, logger.Nop())

	raws, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("max items not enforced, got %d", len(raws))
	}
}

func TestJinseFetcherListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewJinseFetcher(JinseOptions{ListURL: srv.URL}, logger.Nop())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected list failure to propagate")
	}
}
