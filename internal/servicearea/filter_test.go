package servicearea

import (
	"context"
	"testing"
	"time"

	"shipflosync/internal/logging"
)

type fakeSource struct {
	codes []string
	ok    bool
	calls int
}

func (s *fakeSource) ActivePostalCodes(ctx context.Context) ([]string, bool) {
	s.calls++
	return s.codes, s.ok
}

func newFilter(src *fakeSource) *Filter {
	return &Filter{Source: src, Cache: NewMemoryCache(), Log: logging.NewNop()}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"90 210":   "90210",
		"nw1-6xe":  "NW16XE",
		"  K1A0B1": "K1A0B1",
		"!!!":      "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInAreaAfterNormalization(t *testing.T) {
	f := newFilter(&fakeSource{codes: []string{"90210", "10001"}, ok: true})
	if !f.IsInServiceArea(context.Background(), "90 210") {
		t.Fatal("normalized match should be in area")
	}
	if f.IsInServiceArea(context.Background(), "60601") {
		t.Fatal("unmatched code should be out of area")
	}
}

func TestFailClosed(t *testing.T) {
	ctx := context.Background()
	if newFilter(&fakeSource{codes: []string{"90210"}, ok: true}).IsInServiceArea(ctx, "") {
		t.Fatal("missing postal code must fail closed")
	}
	if newFilter(&fakeSource{codes: []string{"90210"}, ok: true}).IsInServiceArea(ctx, "---") {
		t.Fatal("unnormalizable postal code must fail closed")
	}
	if newFilter(&fakeSource{ok: false}).IsInServiceArea(ctx, "90210") {
		t.Fatal("unavailable active set must fail closed")
	}
	if newFilter(&fakeSource{codes: []string{"", "??"}, ok: true}).IsInServiceArea(ctx, "90210") {
		t.Fatal("set empty after normalization must fail closed")
	}
}

func TestCacheAvoidsRefetch(t *testing.T) {
	src := &fakeSource{codes: []string{"90210"}, ok: true}
	f := newFilter(src)
	ctx := context.Background()
	f.IsInServiceArea(ctx, "90210")
	f.IsInServiceArea(ctx, "10001")
	if src.calls != 1 {
		t.Fatalf("expected a single fetch, got %d", src.calls)
	}
}

func TestCacheExpires(t *testing.T) {
	src := &fakeSource{codes: []string{"90210"}, ok: true}
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	f := &Filter{Source: src, Cache: cache, Log: logging.NewNop()}
	ctx := context.Background()

	f.IsInServiceArea(ctx, "90210")
	now = now.Add(CacheTTL + time.Minute)
	f.IsInServiceArea(ctx, "90210")
	if src.calls != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", src.calls)
	}
}
