/*
Package api exposes the submission pipeline to a local client over HTTP: submit
a photo or barcode, poll progress, cancel, retry, read or restore the stored
result, browse history.
*/
package api

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	echomw "safe-bite/src/pkg/echo-middleware"
	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/imagestore"
	"safe-bite/src/pkg/notify"
	"safe-bite/src/pkg/resultstore"
	"safe-bite/src/pkg/submission"
)

type Deps struct {
	Gateway  *submission.Gateway
	Results  *resultstore.Store
	History  *history.Store
	Images   *imagestore.Store
	Notifier *notify.Notifier // monthly report email, optional

	Token     string // bearer token, empty disables every /api route but health
	Limiter   *echomw.RateLimiter
	UploadDir string // multipart uploads are kept here until their submission ends
	BodyLimit string // "25M"; empty means no limit
}

// job is the image submission running in the background.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Server struct {
	deps Deps
	echo *echo.Echo

	mu      sync.Mutex
	current *job
	last    *submission.Outcome
	uploads map[string]struct{} // received photos, kept while Retry may replay them
}

func New(deps Deps) *Server {
	s := &Server{deps: deps, echo: echo.New(), uploads: map[string]struct{}{}}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.Use(echomw.RequestIDMiddleware)
	s.echo.Use(echomw.RouteAccessLoggerMiddleware)
	if s.deps.Limiter != nil {
		s.echo.Use(s.deps.Limiter.Middleware)
	}
	if s.deps.BodyLimit != "" {
		s.echo.Use(middleware.BodyLimit(s.deps.BodyLimit))
	}

	s.echo.GET("/api/health", s.health)

	api := s.echo.Group("/api", echomw.RequireBearerToken(s.deps.Token))

	api.POST("/submissions/image", s.submitImage)
	api.POST("/submissions/barcode", s.submitBarcode)
	api.POST("/submissions/retry", s.retry)
	api.POST("/submissions/cancel", s.cancel)
	api.GET("/submissions/progress", s.progress)

	api.GET("/result", s.getResult)
	api.POST("/result/restore", s.restoreResult)
	api.PUT("/result/timestamp", s.updateTimestamp)
	api.DELETE("/result", s.clearResult)

	api.GET("/history", s.listHistory)
	api.GET("/history/:id", s.getHistory)
	api.DELETE("/history/:id", s.deleteHistory)
	api.GET("/images/:name", s.image)
	api.POST("/maintenance/cleanup", s.cleanup)
	api.GET("/reports/monthly", s.monthlyReport)
}

// Handler is the router, for httptest and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on address until Shutdown.
func (s *Server) Start(address string) (e *xerr.Error) {
	tl.Log(tl.Notice, palette.BlueBold, "%s on '%s'", "Starting API server", address)
	err := s.echo.Start(address)
	if err != nil && err != http.ErrServerClosed {
		return xerr.NewError(err, "start API server", address)
	}
	return nil
}

/*
Shutdown stops accepting requests, cancels the running submission and waits for
it until ctx ends. Uploaded photos are removed, nothing can replay them after
the process exits.
*/
func (s *Server) Shutdown(ctx context.Context) (e *xerr.Error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.cancel()
		select {
		case <-current.done:
		case <-ctx.Done():
			tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Running submission did not stop in time", ctx.Err())
		}
	}
	s.releaseUploads(false)

	err := s.echo.Shutdown(ctx)
	if err != nil {
		return xerr.NewError(err, "shut down API server", nil)
	}
	return nil
}

/*
start runs an image submission in the background. It returns false when one is
already running. upload, when set, is a received photo owned by the server from
now on.
*/
func (s *Server) start(run func(ctx context.Context) submission.Outcome, upload string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, false
	}
	if upload != "" {
		s.uploads[upload] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	current := &job{cancel: cancel, done: make(chan struct{})}
	s.current = current

	go func() {
		defer close(current.done)
		defer cancel()
		outcome := run(ctx)
		s.releaseUploads(true)

		s.mu.Lock()
		s.last = &outcome
		s.current = nil
		s.mu.Unlock()
	}()
	return current, true
}

/*
releaseUploads removes received photos. With keepRetry the one the gateway
would replay on Retry stays until a later submission replaces it.
*/
func (s *Server) releaseUploads(keepRetry bool) {
	keep := ""
	if keepRetry {
		keep = s.deps.Gateway.RetryImage()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.uploads {
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			tl.Log(tl.Warning, palette.YellowBold, "%s '%s': '%s'", "Could not remove upload", path, err)
		}
		delete(s.uploads, path)
	}
}

// Wait blocks until the running submission, if any, has ended.
func (s *Server) Wait() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		<-current.done
	}
}

func (s *Server) lastOutcome() *submission.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
