package cookies

import (
	"context"
	"iter"
	"net/http"
	"testing"

	"github.com/browserutils/kooky"
)

func cookieSeq(cookies ...*kooky.Cookie) iter.Seq[*kooky.Cookie] {
	return func(yield func(*kooky.Cookie) bool) {
		for _, c := range cookies {
			if !yield(c) {
				return
			}
		}
	}
}

func cookie(name, value string) *kooky.Cookie {
	return &kooky.Cookie{Cookie: http.Cookie{Name: name, Value: value, Domain: ".chatgpt.com"}}
}

func TestCollectKeepsFirstWantedValue(t *testing.T) {
	want := map[string]bool{"cf_clearance": true, "__cf_bm": true}
	result := &Result{Cookies: map[string]string{}}
	seq := cookieSeq(
		nil,
		cookie("cf_clearance", ""),
		cookie("cf_clearance", "first"),
		cookie("cf_clearance", "second"),
		cookie("unrelated", "x"),
		cookie("__cf_bm", "bm"),
	)
	if err := collect(context.Background(), seq, want, "chrome", result, t.Logf); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Cookies["cf_clearance"] != "first" || result.Cookies["__cf_bm"] != "bm" {
		t.Fatalf("unexpected cookies %v", result.Cookies)
	}
	if _, ok := result.Cookies["unrelated"]; ok {
		t.Fatalf("unwanted cookie kept")
	}
	if result.Browser != "chrome" {
		t.Fatalf("browser = %q", result.Browser)
	}
}

func TestCollectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := &Result{Cookies: map[string]string{}}
	err := collect(ctx, cookieSeq(cookie("cf_clearance", "v")), map[string]bool{"cf_clearance": true}, "safari", result, t.Logf)
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestHasAll(t *testing.T) {
	var nilResult *Result
	if nilResult.HasAll([]string{"a"}) {
		t.Fatalf("nil result has nothing")
	}
	r := &Result{Cookies: map[string]string{"a": "1", "b": ""}}
	if !r.HasAll([]string{"a"}) || r.HasAll([]string{"a", "b"}) {
		t.Fatalf("HasAll mismatch for %v", r.Cookies)
	}
}
