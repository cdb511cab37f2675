package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

/*
Client talks to the Responses API. BaseURL is configurable so tests and
self-hosted gateways can stand in for api.openai.com.
*/
type Client struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func NewClient(baseURL string, apiKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (a *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", a.Status, a.Body)
}

func (a *APIError) StatusCode() int {
	return a.Status
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body *progressReader) (req *http.Request, e *xerr.Error) {
	url := c.BaseURL + path
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, xerr.NewError(err, "build request", url)
	}
	if body != nil {
		req.ContentLength = body.total
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return req, nil
}

// do sends req and decodes a responseObject. The HTTP status is returned even on error.
func (c *Client) do(req *http.Request) (out responseObject, status int, e *xerr.Error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return out, 0, xerr.NewError(err, "send request", req.URL.String())
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	status = resp.StatusCode

	body, e := ReadBody(resp)
	if e != nil {
		return out, status, e
	}
	if status < 200 || status >= 300 {
		apiErr := &APIError{Status: status, Body: truncate(string(body), 500)}
		return out, status, xerr.NewError(apiErr, "unexpected status from Responses API", req.URL.String())
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, status, xerr.NewError(err, "decode Responses API body", truncate(string(body), 200))
	}
	return out, status, nil
}

/*
createResponse POSTs /responses. The marshalled payload is streamed through a
progressReader so the caller sees upload progress.
*/
func (c *Client) createResponse(ctx context.Context, payload requestPayload, progress ProgressFunc) (out responseObject, status int, e *xerr.Error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, 0, xerr.NewError(err, "marshal request payload", payload.Model)
	}
	tl.Log(tl.Debug, palette.CyanDim, "%s %s to '%s'", "Uploading", humanBytes(len(raw)), c.BaseURL+"/responses")

	req, e := c.newRequest(ctx, http.MethodPost, "/responses", newProgressReader(raw, progress))
	if e != nil {
		return out, 0, e
	}
	return c.do(req)
}

func (c *Client) getResponseByID(ctx context.Context, id string) (out responseObject, status int, e *xerr.Error) {
	req, e := c.newRequest(ctx, http.MethodGet, "/responses/"+id, nil)
	if e != nil {
		return out, 0, e
	}
	return c.do(req)
}

/*
waitForResponseCompletion polls until the response reaches a terminal status,
ctx is done, or PollTimeout elapses.
*/
func (c *Client) waitForResponseCompletion(ctx context.Context, id string) (out responseObject, status int, e *xerr.Error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := c.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return out, status, xerr.NewError(ctx.Err(), "wait for response", id)
		case <-deadline.C:
			return out, status, xerr.NewError(fmt.Errorf("timed out after %s", timeout), "wait for response", id)
		case <-ticker.C:
		}

		out, status, e = c.getResponseByID(ctx, id)
		if e != nil {
			return out, status, e
		}
		tl.Log(tl.Debug1, palette.CyanDim, "Response '%s' status is '%s'", id, out.Status)

		switch out.Status {
		case statusCompleted, statusIncomplete:
			return out, status, nil
		case statusFailed, statusCancelled, statusExpired:
			return out, status, xerr.NewError(fmt.Errorf("response ended with status '%s': %v", out.Status, out.Error), "wait for response", id)
		}
	}
}

// extractOutputText concatenates all output_text parts of message items.
func extractOutputText(resp *responseObject) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func humanBytes(n int) string {
	return humanize.Bytes(uint64(n))
}
