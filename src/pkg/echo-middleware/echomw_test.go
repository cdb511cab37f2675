package echomw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serve(e *echo.Echo, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, request)
	return recorder
}

func TestRequireBearerToken(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, RequireBearerToken("s3cret"))

	cases := map[string]int{
		"":                http.StatusUnauthorized,
		"Basic s3cret":    http.StatusUnauthorized,
		"Bearer wrong":    http.StatusUnauthorized,
		"Bearer s3cret":   http.StatusOK,
		"bearer   s3cret": http.StatusOK,
	}
	for header, want := range cases {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			request.Header.Set("Authorization", header)
		}
		if got := serve(e, request).Code; got != want {
			t.Errorf("Authorization %q: got %d, want %d", header, got, want)
		}
	}
}

func TestEmptyTokenFailsClosed(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, RequireBearerToken(""))
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer ")
	recorder := serve(e, request)
	if recorder.Code != http.StatusUnauthorized || recorder.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("got %d %v", recorder.Code, recorder.Header())
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, limiter.Middleware)

	codes := []int{}
	for range 3 {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = "10.0.0.1:1234"
		codes = append(codes, serve(e, request).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("got %v, want burst of 2 then 429", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	if got := serve(e, other).Code; got != http.StatusOK {
		t.Fatalf("other client got %d", got)
	}
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestIDMiddleware)
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	generated := serve(e, httptest.NewRequest(http.MethodGet, "/", nil)).Header().Get(HeaderRequestID)
	if len(generated) != 36 {
		t.Fatalf("generated id = %q", generated)
	}
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(HeaderRequestID, "abc")
	if got := serve(e, request).Header().Get(HeaderRequestID); got != "abc" {
		t.Fatalf("got %q, want client id kept", got)
	}
}

func TestInitializeConfigFillsMissing(t *testing.T) {
	defer func() { Cfg = DefaultValueConfig() }()

	InitializeConfig(&Config{Port: 9000})
	if Cfg.Port != 9000 {
		t.Fatalf("port: got %d, want %d", Cfg.Port, 9000)
	}
	if Cfg.BodyLimit != "25M" {
		t.Errorf("body limit: got %q, want %q", Cfg.BodyLimit, "25M")
	}
	if Cfg.ListenAddress() != "127.0.0.1:9000" {
		t.Errorf("listen address: got %q", Cfg.ListenAddress())
	}
	if Cfg.ShutdownTimeout() != 30*time.Second {
		t.Errorf("shutdown timeout: got %v", Cfg.ShutdownTimeout())
	}
}
