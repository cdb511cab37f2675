package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/failure"
	"safe-bite/src/pkg/submission"
)

type barcodeRequest struct {
	Code    string           `json:"code"`
	Profile analysis.Profile `json:"profile"`
}

type progressResponse struct {
	Progress submission.Progress `json:"progress"`
	Running  bool                `json:"running"`
	CanRetry bool                `json:"can_retry"`
	Outcome  *submission.Outcome `json:"outcome,omitempty"`
}

/*
submitImage accepts either JSON (an ImageRequest pointing at a local file) or
a multipart form with the photo in "image". The submission runs in the
background; with ?wait=true the response carries the outcome.
*/
func (s *Server) submitImage(c echo.Context) error {
	request, upload, err := s.readImageRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	started, ok := s.start(func(ctx context.Context) submission.Outcome {
		return s.deps.Gateway.SubmitImage(ctx, request)
	}, upload)
	if !ok {
		if upload != "" {
			_ = os.Remove(upload)
		}
		return c.JSON(http.StatusConflict, submission.Outcome{Status: submission.Busy})
	}
	return s.respondToJob(c, started)
}

func (s *Server) retry(c echo.Context) error {
	if !s.deps.Gateway.CanRetry() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "nothing to retry"})
	}
	started, ok := s.start(s.deps.Gateway.Retry, "")
	if !ok {
		return c.JSON(http.StatusConflict, submission.Outcome{Status: submission.Busy})
	}
	return s.respondToJob(c, started)
}

func (s *Server) respondToJob(c echo.Context, started *job) error {
	if c.QueryParam("wait") != "true" {
		return c.JSON(http.StatusAccepted, progressResponse{Progress: s.deps.Gateway.Progress(), Running: true})
	}
	select {
	case <-started.done:
	case <-c.Request().Context().Done():
		// the client went away, the submission keeps running
		return nil
	}
	outcome := s.lastOutcome()
	return c.JSON(outcomeStatus(*outcome), outcome)
}

func (s *Server) cancel(c echo.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return c.JSON(http.StatusOK, map[string]bool{"cancelled": false})
	}
	current.cancel()
	select {
	case <-current.done:
	case <-c.Request().Context().Done():
		return nil
	}
	tl.Log(tl.Info, palette.Purple, "%s by client", "Submission cancelled")
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) progress(c echo.Context) error {
	s.mu.Lock()
	running := s.current != nil
	last := s.last
	s.mu.Unlock()

	response := progressResponse{
		Progress: s.deps.Gateway.Progress(),
		Running:  running,
		CanRetry: s.deps.Gateway.CanRetry(),
	}
	if !running {
		response.Outcome = last
	}
	return c.JSON(http.StatusOK, response)
}

// barcode lookups are short, they run inside the request
func (s *Server) submitBarcode(c echo.Context) error {
	var request barcodeRequest
	if err := c.Bind(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "code is required"})
	}
	outcome := s.deps.Gateway.SubmitBarcode(c.Request().Context(), request.Code, request.Profile)
	return c.JSON(outcomeStatus(outcome), outcome)
}

func outcomeStatus(outcome submission.Outcome) int {
	switch outcome.Status {
	case submission.Succeeded, submission.LookupMiss:
		return http.StatusOK
	case submission.Busy, submission.Cancelled:
		return http.StatusConflict
	}
	switch outcome.Kind {
	case failure.FileInvalid:
		return http.StatusUnprocessableEntity
	case failure.Offline:
		return http.StatusServiceUnavailable
	case failure.RetryableServer:
		return http.StatusBadGateway
	case failure.StorageFailure:
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

/*
readImageRequest decodes the submission. For a multipart upload, upload is the
received copy of the photo; the caller owns it.
*/
func (s *Server) readImageRequest(c echo.Context) (request submission.ImageRequest, upload string, err error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		if err = c.Bind(&request); err != nil {
			return request, "", err
		}
		if strings.TrimSpace(request.ImageURI) == "" {
			return request, "", echo.NewHTTPError(http.StatusBadRequest, "image_uri is required")
		}
		return request, "", nil
	}

	header, err := c.FormFile("image")
	if err != nil {
		return request, "", err
	}
	path, e := s.saveUpload(header)
	if e != nil {
		return request, "", errors.New(fmt.Sprint(e))
	}

	request.ImageURI = path
	request.Source = analysis.Source(c.FormValue("source"))
	request.Timestamp = c.FormValue("timestamp")
	if profile := c.FormValue("profile"); profile != "" {
		if err = json.Unmarshal([]byte(profile), &request.Profile); err != nil {
			_ = os.Remove(path)
			return request, "", err
		}
	}
	request.DeviceLatitude = formFloat(c, "device_latitude")
	request.DeviceLongitude = formFloat(c, "device_longitude")
	return request, path, nil
}

func formFloat(c echo.Context, name string) *float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(c.FormValue(name)), 64)
	if err != nil {
		return nil
	}
	return &value
}

// saveUpload copies an uploaded photo into the upload directory.
func (s *Server) saveUpload(header *multipart.FileHeader) (path string, e *xerr.Error) {
	dir := s.deps.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerr.NewError(err, "create upload directory", dir)
	}

	source, err := header.Open()
	if err != nil {
		return "", xerr.NewError(err, "open uploaded file", header.Filename)
	}
	defer func() {
		_ = source.Close()
	}()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	destination, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", xerr.NewError(err, "create upload file", dir)
	}
	written, err := io.Copy(destination, source)
	closeErr := destination.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destination.Name())
		return "", xerr.NewError(err, "write uploaded file", destination.Name())
	}

	tl.Log(tl.Info1, palette.Cyan, "Received upload '%s' (%v bytes)", header.Filename, written)
	return destination.Name(), nil
}
