// Package slackapi talks to the Slack Web API with rate-limit aware retries,
// cursor and time-window pagination, and message posting.
package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"destalinator/internal/telemetry"
)

// DefaultAPIURL is the Slack Web API base URL.
const DefaultAPIURL = "https://slack.com/api/"

const (
	maxRetries        = 10
	retryStep         = 5 * time.Second
	retryCeiling      = time.Minute
	defaultRetryAfter = 15 * time.Second
	maxBodyBytes      = 16 * 1024 * 1024
)

// ErrForbidden is returned for HTTP 403 responses. It is never retried.
var ErrForbidden = errors.New("forbidden")

// HTTPError is a non-2xx response that exhausted its retries or is permanent.
type HTTPError struct {
	Method     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Method, e.StatusCode)
}

// Unwrap maps 403 responses to ErrForbidden.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusForbidden {
		return ErrForbidden
	}
	return nil
}

// APIError is a payload with "ok": false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: slack error %q", e.Method, e.Code)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	Token        string
	APIURL       string
	BotName      string
	BotAvatarURL string
	PageSize     int
}

// Stats is a snapshot of the client's call counters.
type Stats struct {
	Calls       int64
	Retries     int64
	RateLimited int64
	Waited      time.Duration
}

type instruments struct {
	calls   metric.Int64Counter
	retries metric.Int64Counter
	waited  metric.Float64Counter
}

// Client is a rate-limited Slack Web API client. It implements HTTPClient
// itself so the slack-go client used for posting shares the same retry
// policy and counters.
type Client struct {
	http     HTTPClient
	token    string
	baseURL  string
	pageSize int
	botName  string
	botIcon  string
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	api      *slack.Client

	calls       atomic.Int64
	retries     atomic.Int64
	rateLimited atomic.Int64
	waited      atomic.Int64

	metrics instruments
}

// New creates a Client that sends requests through httpClient.
func New(httpClient HTTPClient, opts Options, log *slog.Logger) *Client {
	baseURL := opts.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	c := &Client{
		http:     httpClient,
		token:    opts.Token,
		baseURL:  baseURL,
		pageSize: pageSize,
		botName:  opts.BotName,
		botIcon:  opts.BotAvatarURL,
		log:      log,
		sleep:    sleepContext,
		metrics:  newInstruments(),
	}
	c.api = slack.New(opts.Token,
		slack.OptionHTTPClient(c),
		slack.OptionAPIURL(baseURL),
	)
	return c
}

func newInstruments() instruments {
	m := telemetry.Meter("destalinator/slackapi")
	var ins instruments
	ins.calls, _ = m.Int64Counter("slackapi.calls",
		metric.WithDescription("Slack Web API requests sent"))
	ins.retries, _ = m.Int64Counter("slackapi.retries",
		metric.WithDescription("Slack Web API requests retried"))
	ins.waited, _ = m.Float64Counter("slackapi.wait",
		metric.WithDescription("Time spent backing off"), metric.WithUnit("s"))
	return ins
}

// Stats returns the current call counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:       c.calls.Load(),
		Retries:     c.retries.Load(),
		RateLimited: c.rateLimited.Load(),
		Waited:      time.Duration(c.waited.Load()),
	}
}

// Do sends req, retrying rate-limited and transient failures.
//
// A 429 sleeps for twice the server's Retry-After and never consumes the
// retry budget. A 403 fails immediately. Anything else non-2xx, and
// transport errors, back off linearly for at most maxRetries attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	method := path.Base(req.URL.Path)
	attr := metric.WithAttributes(attribute.String("method", method))

	bo := backoff.WithMaxRetries(&linearBackOff{step: retryStep, ceiling: retryCeiling}, maxRetries)
	bo.Reset()

	for attempt := 0; ; attempt++ {
		r, err := rewind(req, attempt)
		if err != nil {
			return nil, fmt.Errorf("%s: rewind body: %w", method, err)
		}

		c.calls.Add(1)
		if c.metrics.calls != nil {
			c.metrics.calls.Add(ctx, 1, attr)
		}

		resp, err := c.http.Do(r)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			next := bo.NextBackOff()
			if next == backoff.Stop {
				return nil, fmt.Errorf("%s: %w", method, err)
			}
			wait = next
			c.log.Debug("request failed, retrying", "method", method, "attempt", attempt+1, "wait", wait, "error", err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = retryAfter(resp.Header) * 2
			drain(resp)
			c.rateLimited.Add(1)
			c.log.Debug("rate limited", "method", method, "wait", wait)
		case resp.StatusCode == http.StatusForbidden:
			drain(resp)
			return nil, &HTTPError{Method: method, StatusCode: resp.StatusCode}
		default:
			drain(resp)
			next := bo.NextBackOff()
			if next == backoff.Stop {
				return nil, &HTTPError{Method: method, StatusCode: resp.StatusCode}
			}
			wait = next
			c.log.Debug("unexpected status, retrying", "method", method, "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
		}

		c.retries.Add(1)
		c.waited.Add(int64(wait))
		if c.metrics.retries != nil {
			c.metrics.retries.Add(ctx, 1, attr)
			c.metrics.waited.Add(ctx, wait.Seconds(), attr)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// Call invokes a Web API method with GET and returns the decoded top-level
// object. Payloads with "ok": false are returned as *APIError.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (map[string]json.RawMessage, error) {
	u := c.baseURL + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "destalinator/1.0")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", method, err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%s: decode payload: %w", method, err)
	}

	if raw, ok := payload["ok"]; ok {
		var okVal bool
		if err := json.Unmarshal(raw, &okVal); err == nil && !okVal {
			var code string
			_ = json.Unmarshal(payload["error"], &code)
			if code == "" {
				code = "unknown_error"
			}
			return nil, &APIError{Method: method, Code: code}
		}
	}
	return payload, nil
}

// linearBackOff grows by step on every call, up to ceiling.
type linearBackOff struct {
	step    time.Duration
	ceiling time.Duration
	n       int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := time.Duration(b.n) * b.step
	if d > b.ceiling {
		return b.ceiling
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
