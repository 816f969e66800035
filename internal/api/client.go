// Package api is the Infinite Craft client. One endpoint matters: pair two
// elements, get the resulting element back. The site only answers requests
// that look like they come from the game running in a browser, so the plain
// HTTP client sends the same headers the game does, and a go-rod transport
// exists for when that stops being enough.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"craftbot/internal/element"
	"craftbot/internal/logging"
	"craftbot/internal/metrics"
)

// DefaultBaseURL is the game's API root.
const DefaultBaseURL = "https://neal.fun/api/infinite-craft"

// ErrSchemaChanged means the pair endpoint returned a JSON shape we don't
// recognize. The API contract moved underneath us; crawling must stop.
var ErrSchemaChanged = errors.New("pair response schema changed")

// ErrThrottled is returned after a 429; the mandated backoff has already been
// slept, so callers may simply retry.
var ErrThrottled = errors.New("throttled by server")

// ServerError is a 5xx from the pair endpoint. Retryable.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: HTTP %d", e.StatusCode)
}

// Headers copied from a pair request made by the game in Chrome
// (F12 -> Network -> pair?... -> Request Headers).
var browserHeaders = map[string]string{
	"Accept":             "*/*",
	"Accept-Language":    "en-US,en;q=0.9,de-DE;q=0.8,de;q=0.7",
	"Referer":            "https://neal.fun/infinite-craft/",
	"Sec-Ch-Ua":          `"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"Windows"`,
	"Sec-Fetch-Dest":     "empty",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Site":     "same-origin",
	"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

// PairClient issues pair requests. Implemented by Client and BrowserClient.
type PairClient interface {
	Pair(ctx context.Context, first, second string) (*element.Element, error)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// At most RateBurst requests per RatePeriod, spread evenly.
	RateBurst  int
	RatePeriod time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.RateBurst <= 0 {
		out.RateBurst = 14
	}
	if out.RatePeriod <= 0 {
		out.RatePeriod = 3 * time.Second
	}
	return out
}

func (c Config) limiter() *rate.Limiter {
	perSecond := float64(c.RateBurst) / c.RatePeriod.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), c.RateBurst)
}

// Client is the plain HTTP pair client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client from config; zero values get defaults.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: cfg.limiter(),
	}
}

// Pair combines two elements. It blocks on the rate limiter first, so callers
// can hammer it from many goroutines without tripping the server.
func (c *Client) Pair(ctx context.Context, first, second string) (*element.Element, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())

	q := url.Values{}
	q.Set("first", first)
	q.Set("second", second)
	reqURL := c.baseURL + "/pair?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build pair request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("pair(%s, %s)", first, second))
	resp, err := c.http.Do(req)
	elapsed := timer.StopWithThreshold(2 * time.Second)
	metrics.PairDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		logging.APIWarn("pair request failed: %v", err)
		return nil, fmt.Errorf("pair request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.PairRequests.WithLabelValues("throttled").Inc()
		return nil, c.backOff(ctx, resp)
	case resp.StatusCode >= 500:
		metrics.PairRequests.WithLabelValues("server_error").Inc()
		logging.APIWarn("pair request failed: HTTP %d", resp.StatusCode)
		return nil, &ServerError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		logging.APIWarn("pair request failed: HTTP %d %s", resp.StatusCode, resp.Status)
		return nil, fmt.Errorf("pair request: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("read pair response: %w", err)
	}

	el, err := parsePairBody(body)
	if err != nil {
		metrics.PairRequests.WithLabelValues("schema_error").Inc()
		logging.Get(logging.CategoryAPI).Error("pair response rejected: %v", err)
		return nil, err
	}

	if el.Text == element.Nothing {
		metrics.PairRequests.WithLabelValues("nothing").Inc()
	} else {
		metrics.PairRequests.WithLabelValues("ok").Inc()
	}
	return el, nil
}

// backOff honors a 429's Retry-After before reporting ErrThrottled.
func (c *Client) backOff(ctx context.Context, resp *http.Response) error {
	delay := 5 * time.Second
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				delay = d
			}
		}
	}
	logging.APIWarn("throttled, backing off %v", delay)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return ErrThrottled
	}
}

// pairResponse is the only shape the endpoint has ever returned.
type pairResponse struct {
	Result string `json:"result"`
	Emoji  string `json:"emoji"`
	IsNew  bool   `json:"isNew"`
}

// parsePairBody decodes a pair response, insisting on the exact key set
// {result, emoji, isNew} so a silent API change is caught immediately.
func parsePairBody(body []byte) (*element.Element, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("decode pair response: %w", err)
	}

	_, hasResult := keys["result"]
	_, hasEmoji := keys["emoji"]
	_, hasIsNew := keys["isNew"]
	if len(keys) != 3 || !hasResult || !hasEmoji || !hasIsNew {
		got := make([]string, 0, len(keys))
		for k := range keys {
			got = append(got, k)
		}
		return nil, fmt.Errorf("%w: keys %v", ErrSchemaChanged, got)
	}

	var pr pairResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode pair response: %w", err)
	}

	return &element.Element{Text: pr.Result, Emoji: pr.Emoji, Discovered: pr.IsNew}, nil
}
