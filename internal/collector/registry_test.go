package collector

import (
	"context"
	"testing"
)

type stubFetcher struct {
	name string
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(ctx context.Context) ([]RawArticle, error) {
	return nil, nil
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{name: "b"})
	r.Register(&stubFetcher{name: "a"})
	r.Register(&stubFetcher{name: "c"})

	names := r.Names()
	if len(names) != 3 {
		t.Fatalf("Names len = %d, want 3", len(names))
	}
	want := []string{"b", "a", "c"}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("Names[%d] = %q, want %q", i, names[i], name)
		}
	}
}

func TestRegistryOverwriteKeepsSingleEntry(t *testing.T) {
	r := NewRegistry()
	first := &stubFetcher{name: "jinse"}
	second := &stubFetcher{name: "jinse"}
	r.Register(first)
	r.Register(second)

	if got := len(r.Names()); got != 1 {
		t.Fatalf("Names len = %d, want 1", got)
	}
	f, ok := r.Get("jinse")
	if !ok {
		t.Fatalf("Get(jinse) not found")
	}
	if f != second {
		t.Fatalf("Get(jinse) should return the latest registration")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("Get on empty registry should report missing")
	}
}
