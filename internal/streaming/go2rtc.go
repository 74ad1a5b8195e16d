package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// StatusError is a non-2xx answer from the go2rtc API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("go2rtc returned %d: %s", e.Code, e.Body)
}

// StreamInfo is go2rtc's view of one stream
type StreamInfo struct {
	Producers []map[string]any `json:"producers"`
	Consumers []map[string]any `json:"consumers"`
}

// Client talks to the go2rtc HTTP API. Requests that fail with a network
// error or a 5xx are retried with exponential backoff.
type Client struct {
	baseURL string
	http    *resty.Client
	retries int
	initial time.Duration
	logger  *slog.Logger
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, retries int) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetTimeout(10 * time.Second)
	r.SetHeader("Accept", "application/json")

	return &Client{
		baseURL: baseURL,
		http:    r,
		retries: retries,
		initial: 250 * time.Millisecond,
		logger:  slog.Default().With("component", "go2rtc"),
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AddStream registers src under name
func (c *Client) AddStream(ctx context.Context, name, src string) error {
	q := map[string]string{"name": name, "src": src}
	return c.retry(ctx, "add stream", func() error {
		return c.do(ctx, http.MethodPut, "/api/streams", q, nil)
	})
}

// RemoveStream deletes a stream. A missing stream is not an error.
func (c *Client) RemoveStream(ctx context.Context, name string) error {
	q := map[string]string{"src": name}
	return c.retry(ctx, "remove stream", func() error {
		err := c.do(ctx, http.MethodDelete, "/api/streams", q, nil)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil
		}
		return err
	})
}

// Streams lists every registered stream
func (c *Client) Streams(ctx context.Context) (map[string]StreamInfo, error) {
	streams := make(map[string]StreamInfo)
	err := c.retry(ctx, "list streams", func() error {
		return c.do(ctx, http.MethodGet, "/api/streams", nil, &streams)
	})
	return streams, err
}

// Ping checks that the API answers
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api", nil, nil)
}

func (c *Client) retry(ctx context.Context, what string, op func() error) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = c.initial
	ebo.Reset()

	var b backoff.BackOff = ebo
	if c.retries >= 0 {
		b = backoff.WithMaxRetries(ebo, uint64(c.retries))
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Debug("go2rtc request failed", "op", what, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("go2rtc %s: %w", what, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Execute(method, path)
	if err != nil {
		return err
	}

	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// streamPrefix marks the go2rtc streams this service owns
const streamPrefix = "grid_"

// StreamName maps a camera id to a valid go2rtc stream name
func StreamName(cameraID string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"-", "_",
		".", "_",
		"/", "_",
		"\\", "_",
	)
	return streamPrefix + strings.ToLower(replacer.Replace(cameraID))
}

// PlaybackURLs returns the browser-facing endpoints of a camera's stream
func (c *Client) PlaybackURLs(cameraID string) map[string]string {
	src := url.QueryEscape(StreamName(cameraID))
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}

	return map[string]string{
		"webrtc": fmt.Sprintf("%s/api/webrtc?src=%s", c.baseURL, src),
		"mse":    fmt.Sprintf("%s/api/ws?src=%s", ws, src),
		"hls":    fmt.Sprintf("%s/api/stream.m3u8?src=%s", c.baseURL, src),
		"mjpeg":  fmt.Sprintf("%s/api/frame.jpeg?src=%s", c.baseURL, src),
	}
}
