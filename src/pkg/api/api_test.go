package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/barcode"
	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/imagestore"
	"safe-bite/src/pkg/kvstore"
	"safe-bite/src/pkg/netguard"
	"safe-bite/src/pkg/resultstore"
	"safe-bite/src/pkg/submission"
)

const token = "test-token"

type analyzerFunc func(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error)

func (f analyzerFunc) Analyze(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error) {
	return f(ctx, request, progress)
}

type fixture struct {
	server  *Server
	gateway *submission.Gateway
	http    *httptest.Server
	images  *imagestore.Store
	results *resultstore.Store
	dir     string
}

func newFixture(t *testing.T, analyzer submission.Analyzer) *fixture {
	t.Helper()
	dir := t.TempDir()

	kv, e := kvstore.Open(filepath.Join(dir, "safe-bite.db"))
	if e != nil {
		t.Fatalf("open kv: %v", e)
	}
	t.Cleanup(func() { _ = kv.Close() })

	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/product/3017620422003.json" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    "3017620422003",
				"status":  1,
				"product": map[string]any{"product_name": "Nutella", "allergens_tags": []string{"en:milk", "en:nuts"}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(catalog.Close)

	images := imagestore.New(filepath.Join(dir, "images"), 1, imagestore.WithFreeSpaceFunc(func(string) (uint64, error) {
		return 1 << 40, nil
	}))
	results := resultstore.New(kv)
	scans := history.New(kv, images)
	gateway := submission.New(submission.Deps{
		Analyzer:           analyzer,
		Guard:              netguard.Static(true),
		Images:             images,
		Results:            results,
		History:            scans,
		Barcodes:           barcode.NewService(barcode.NewCache(kv), barcode.NewClient(catalog.URL, "safe-bite-test", 0)),
		DefaultCountryCode: "US",
		UploadMaxEdge:      1600,
	})

	server := New(Deps{
		Gateway:   gateway,
		Results:   results,
		History:   scans,
		Images:    images,
		Token:     token,
		UploadDir: filepath.Join(dir, "uploads"),
	})
	f := &fixture{server: server, gateway: gateway, http: httptest.NewServer(server.Handler()), images: images, results: results, dir: dir}
	t.Cleanup(func() {
		server.Wait()
		gateway.Wait()
		results.Wait()
		f.http.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method string, path string, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	request, err := http.NewRequest(method, f.http.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = response.Body.Close() }()
	var buffer bytes.Buffer
	_, _ = buffer.ReadFrom(response.Body)
	return response, buffer.Bytes()
}

func writePhoto(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "capture.jpg")
	if err := imaging.Save(imaging.New(32, 24, color.NRGBA{R: 90, G: 160, B: 60, A: 255}), path); err != nil {
		t.Fatal(err)
	}
	return path
}

func safeAnalyzer() submission.Analyzer {
	return analyzerFunc(func(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error) {
		progress(1)
		return &analysis.Result{DishName: "som tam", Verdict: analysis.VerdictSafe, CountryCode: request.CountryCode}, nil
	})
}

func TestHealthIsPublicAndAPIIsNot(t *testing.T) {
	f := newFixture(t, safeAnalyzer())

	response, err := http.Get(f.http.URL + "/api/health")
	if err != nil || response.StatusCode != http.StatusOK {
		t.Fatalf("health: %v %v", response, err)
	}
	response, err = http.Get(f.http.URL + "/api/result")
	if err != nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("result without token: %v %v", response, err)
	}
}

func TestSubmitImageAndReadBack(t *testing.T) {
	f := newFixture(t, safeAnalyzer())
	photo := writePhoto(t, t.TempDir())

	body, _ := json.Marshal(submission.ImageRequest{ImageURI: photo, Source: analysis.SourceGallery})
	response, raw := f.do(t, http.MethodPost, "/api/submissions/image?wait=true", "application/json", body)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", response.StatusCode, raw)
	}
	var outcome submission.Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.Status != submission.Succeeded || outcome.ImageRef == "" {
		t.Fatalf("outcome = %+v", outcome)
	}

	response, raw = f.do(t, http.MethodGet, "/api/result", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), "som tam") {
		t.Fatalf("result: %d %s", response.StatusCode, raw)
	}

	response, raw = f.do(t, http.MethodGet, "/api/history", "", nil)
	var records []history.Record
	if err := json.Unmarshal(raw, &records); err != nil || len(records) != 1 {
		t.Fatalf("history: %d %s", response.StatusCode, raw)
	}

	response, _ = f.do(t, http.MethodGet, "/api/images/"+outcome.ImageRef, "", nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("image: %d", response.StatusCode)
	}
	response, _ = f.do(t, http.MethodGet, "/api/images/..%2Fsafe-bite.db", "", nil)
	if response.StatusCode == http.StatusOK {
		t.Fatal("served a file outside the managed directory")
	}

	response, raw = f.do(t, http.MethodGet, "/api/submissions/progress", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"status":"succeeded"`) {
		t.Fatalf("progress: %s", raw)
	}
}

func TestSubmitMultipartUpload(t *testing.T) {
	f := newFixture(t, safeAnalyzer())
	photo, err := os.ReadFile(writePhoto(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, _ := form.CreateFormFile("image", "dish.jpg")
	_, _ = part.Write(photo)
	_ = form.WriteField("source", "camera")
	_ = form.WriteField("profile", `{"allergens":["peanuts"],"language":"de"}`)
	_ = form.WriteField("device_latitude", "not a number")
	_ = form.Close()

	response, raw := f.do(t, http.MethodPost, "/api/submissions/image?wait=true", form.FormDataContentType(), body.Bytes())
	if response.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", response.StatusCode, raw)
	}

	f.server.Wait()
	uploads, _ := os.ReadDir(filepath.Join(f.dir, "uploads"))
	if len(uploads) != 0 {
		t.Fatalf("upload copies left behind: %v", uploads)
	}
}

func TestInvalidImageIsUnprocessable(t *testing.T) {
	f := newFixture(t, safeAnalyzer())
	empty := filepath.Join(t.TempDir(), "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(submission.ImageRequest{ImageURI: empty, Source: analysis.SourceGallery})
	response, raw := f.do(t, http.MethodPost, "/api/submissions/image?wait=true", "application/json", body)
	if response.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(string(raw), "file_invalid") {
		t.Fatalf("got %d %s", response.StatusCode, raw)
	}
	response, _ = f.do(t, http.MethodPost, "/api/submissions/retry", "", nil)
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("retry after file failure: %d", response.StatusCode)
	}
}

func TestCancelRunningSubmission(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f := newFixture(t, analyzerFunc(func(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return &analysis.Result{DishName: "late", Verdict: analysis.VerdictSafe}, nil
		}
		return &analysis.Result{DishName: "som tam", Verdict: analysis.VerdictSafe}, nil
	}))
	defer close(release)
	photo := writePhoto(t, t.TempDir())

	body, _ := json.Marshal(submission.ImageRequest{ImageURI: photo, Source: analysis.SourceGallery})
	response, _ := f.do(t, http.MethodPost, "/api/submissions/image", "application/json", body)
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d", response.StatusCode)
	}
	<-started

	response, _ = f.do(t, http.MethodPost, "/api/submissions/image", "application/json", body)
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("second submit: %d, want 409", response.StatusCode)
	}

	// the analyzer is still blocked, cancel must not wait for it
	cancelled := make(chan string, 1)
	go func() {
		request, _ := http.NewRequest(http.MethodPost, f.http.URL+"/api/submissions/cancel", nil)
		request.Header.Set("Authorization", "Bearer "+token)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			cancelled <- err.Error()
			return
		}
		defer func() { _ = response.Body.Close() }()
		var buffer bytes.Buffer
		_, _ = buffer.ReadFrom(response.Body)
		cancelled <- buffer.String()
	}()
	select {
	case raw := <-cancelled:
		if !strings.Contains(raw, `"cancelled":true`) {
			t.Fatalf("cancel: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel blocked on the pending remote call")
	}

	response, raw := f.do(t, http.MethodGet, "/api/submissions/progress", "", nil)
	if !strings.Contains(string(raw), `"status":"cancelled"`) {
		t.Fatalf("progress: %d %s", response.StatusCode, raw)
	}
	response, _ = f.do(t, http.MethodGet, "/api/result", "", nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("cancelled submission stored a result: %d", response.StatusCode)
	}
	if _, raw := f.do(t, http.MethodPost, "/api/submissions/cancel", "", nil); !strings.Contains(string(raw), `"cancelled":false`) {
		t.Fatalf("cancel with nothing running: %s", raw)
	}

	response, raw = f.do(t, http.MethodPost, "/api/submissions/image?wait=true", "application/json", body)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), "som tam") {
		t.Fatalf("submit after cancel: %d %s", response.StatusCode, raw)
	}
}

func TestRetryUploadedPhotoAfterServerError(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, analyzerFunc(func(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("analyzer request failed: status 503")
		}
		progress(1)
		return &analysis.Result{DishName: "som tam", Verdict: analysis.VerdictSafe}, nil
	}))
	photo, err := os.ReadFile(writePhoto(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, _ := form.CreateFormFile("image", "dish.jpg")
	_, _ = part.Write(photo)
	_ = form.WriteField("source", "gallery")
	_ = form.Close()

	response, raw := f.do(t, http.MethodPost, "/api/submissions/image?wait=true", form.FormDataContentType(), body.Bytes())
	if response.StatusCode != http.StatusBadGateway || !strings.Contains(string(raw), `"offer_retry":true`) {
		t.Fatalf("first attempt: %d %s", response.StatusCode, raw)
	}

	response, raw = f.do(t, http.MethodPost, "/api/submissions/retry?wait=true", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), "som tam") {
		t.Fatalf("retry: %d %s", response.StatusCode, raw)
	}
	if calls.Load() != 2 {
		t.Fatalf("analyzer calls = %d, want 2", calls.Load())
	}

	f.server.Wait()
	uploads, _ := os.ReadDir(filepath.Join(f.dir, "uploads"))
	if len(uploads) != 0 {
		t.Fatalf("upload kept after the retry succeeded: %v", uploads)
	}
}

func TestBarcodeRoutes(t *testing.T) {
	f := newFixture(t, safeAnalyzer())

	response, raw := f.do(t, http.MethodPost, "/api/submissions/barcode", "application/json",
		[]byte(`{"code":"3017620422003","profile":{"allergens":["milk"]}}`))
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"verdict":"unsafe"`) {
		t.Fatalf("hit: %d %s", response.StatusCode, raw)
	}

	response, raw = f.do(t, http.MethodPost, "/api/submissions/barcode", "application/json", []byte(`{"code":"12345678"}`))
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"offer_label_fallback":true`) {
		t.Fatalf("miss: %d %s", response.StatusCode, raw)
	}

	response, _ = f.do(t, http.MethodPost, "/api/submissions/barcode", "application/json", []byte(`{}`))
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty code: %d", response.StatusCode)
	}
}

func TestResultLifecycleAndCleanup(t *testing.T) {
	f := newFixture(t, safeAnalyzer())
	photo := writePhoto(t, t.TempDir())
	body, _ := json.Marshal(submission.ImageRequest{ImageURI: photo, Source: analysis.SourceGallery})
	f.do(t, http.MethodPost, "/api/submissions/image?wait=true", "application/json", body)
	f.results.Wait()

	orphan := filepath.Join(f.images.Dir(), "photo_1_orphan.jpg")
	if err := os.WriteFile(orphan, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	response, raw := f.do(t, http.MethodPost, "/api/maintenance/cleanup", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"removed":1`) {
		t.Fatalf("cleanup: %d %s", response.StatusCode, raw)
	}

	response, _ = f.do(t, http.MethodPut, "/api/result/timestamp", "application/json", []byte(`{"timestamp":"yesterday"}`))
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad timestamp: %d", response.StatusCode)
	}
	response, raw = f.do(t, http.MethodPut, "/api/result/timestamp", "application/json", []byte(`{"timestamp":"2026-10-01T12:00:00Z"}`))
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), "2026-10-01T12:00:00Z") {
		t.Fatalf("timestamp: %d %s", response.StatusCode, raw)
	}

	response, _ = f.do(t, http.MethodDelete, "/api/result", "", nil)
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("clear: %d", response.StatusCode)
	}
	response, _ = f.do(t, http.MethodGet, "/api/result?restore=true", "", nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("result after clear: %d", response.StatusCode)
	}

	response, raw = f.do(t, http.MethodGet, "/api/reports/monthly?month=13", "", nil)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad month: %d %s", response.StatusCode, raw)
	}
	response, raw = f.do(t, http.MethodGet, "/api/reports/monthly", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(raw), "<html") {
		t.Fatalf("report: %d %.200s", response.StatusCode, raw)
	}
}
