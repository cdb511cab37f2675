package barcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func catalogServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/api/v2/product/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "safe-bite-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/api/v2/product/7501055300075.json":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":   "7501055300075",
				"status": 1,
				"product": map[string]any{
					"product_name":   "Galletas Marías",
					"brands":         "Gamesa",
					"allergens_tags": []string{"en:gluten", "en:milk"},
				},
			})
		case "/api/v2/product/00000000.json":
			_ = json.NewEncoder(w).Encode(map[string]any{"code": "00000000", "status": 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestServiceCachesPositiveHits(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	srv := catalogServer(t, &calls)
	defer srv.Close()

	service := NewService(NewCache(openKV(t)), NewClient(srv.URL, "safe-bite-test", 0))

	first, fromCache, e := service.Lookup(ctx, "7501055300075")
	if e != nil {
		t.Fatalf("Lookup: %v", e)
	}
	if !first.Found || fromCache {
		t.Fatalf("first lookup: found=%v fromCache=%v", first.Found, fromCache)
	}
	if first.Product.Brand != "Gamesa" || len(first.Product.AllergensTags) != 2 {
		t.Fatalf("unexpected product: %+v", first.Product)
	}

	second, fromCache, e := service.Lookup(ctx, "7501055300075")
	if e != nil {
		t.Fatalf("Lookup: %v", e)
	}
	if !fromCache || !second.Found {
		t.Fatalf("second lookup not served from cache")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("remote calls = %d, want 1", got)
	}
}

func TestServiceDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	srv := catalogServer(t, &calls)
	defer srv.Close()

	service := NewService(NewCache(openKV(t)), NewClient(srv.URL, "safe-bite-test", 0))
	for _, code := range []string{"00000000", "00000000", "99999999"} {
		result, fromCache, e := service.Lookup(ctx, code)
		if e != nil {
			t.Fatalf("Lookup(%s): %v", code, e)
		}
		if result.Found || fromCache {
			t.Fatalf("Lookup(%s): found=%v fromCache=%v", code, result.Found, fromCache)
		}
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("remote calls = %d, want 3", got)
	}
}

func TestServiceRejectsMalformedCodes(t *testing.T) {
	service := NewService(NewCache(openKV(t)), NewClient("http://127.0.0.1:1", "x", 0))
	if _, _, e := service.Lookup(context.Background(), "not-a-code"); e == nil {
		t.Fatal("expected validation error")
	}
}
