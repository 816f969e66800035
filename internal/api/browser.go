package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/time/rate"

	"craftbot/internal/element"
	"craftbot/internal/logging"
	"craftbot/internal/metrics"
)

const gameURL = "https://neal.fun/infinite-craft/"

// BrowserClient issues pair requests through a headless Chrome page sitting
// on the actual game, using an in-page fetch. The site's bot protection then
// sees a first-party request from a real browser session.
type BrowserClient struct {
	browser *rod.Browser
	page    *rod.Page
	limiter *rate.Limiter

	// a single page serves all workers; fetches are serialized
	mu sync.Mutex
}

// NewBrowserClient launches Chrome, opens the game and waits for it to load.
func NewBrowserClient(ctx context.Context, cfg Config) (*BrowserClient, error) {
	cfg = cfg.withDefaults()

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: gameURL})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open game page: %w", err)
	}
	if err := page.Timeout(30 * time.Second).WaitLoad(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("load game page: %w", err)
	}

	logging.API("browser transport ready (control url %s)", controlURL)

	return &BrowserClient{
		browser: browser,
		page:    page,
		limiter: cfg.limiter(),
	}, nil
}

// Pair combines two elements via an in-page fetch against the pair endpoint.
func (b *BrowserClient) Pair(ctx context.Context, first, second string) (*element.Element, error) {
	waitStart := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())

	q := url.Values{}
	q.Set("first", first)
	q.Set("second", second)
	// Relative URL keeps the request first-party from the game's origin.
	pairURL := "/api/infinite-craft/pair?" + q.Encode()

	js := fmt.Sprintf(`async () => {
		try {
			const res = await fetch(%q, { headers: { "Accept": "*/*" } });
			const text = await res.text();
			return JSON.stringify({ status: res.status, body: text });
		} catch (e) {
			return JSON.stringify({ status: 0, error: String(e) });
		}
	}`, pairURL)

	b.mu.Lock()
	timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("pair(%s, %s) [browser]", first, second))
	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	elapsed := timer.StopWithThreshold(2 * time.Second)
	b.mu.Unlock()
	metrics.PairDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("in-page fetch: %w", err)
	}

	var wrapped struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(res.Value.String()), &wrapped); err != nil {
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("decode fetch wrapper: %w", err)
	}

	switch {
	case wrapped.Status == 0:
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		logging.APIWarn("in-page fetch failed: %s", wrapped.Error)
		return nil, fmt.Errorf("in-page fetch: %s", wrapped.Error)
	case wrapped.Status == 429:
		metrics.PairRequests.WithLabelValues("throttled").Inc()
		logging.APIWarn("throttled (browser transport)")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, ErrThrottled
		}
	case wrapped.Status >= 500:
		metrics.PairRequests.WithLabelValues("server_error").Inc()
		return nil, &ServerError{StatusCode: wrapped.Status}
	case wrapped.Status != 200:
		metrics.PairRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("pair request: HTTP %d", wrapped.Status)
	}

	el, err := parsePairBody([]byte(wrapped.Body))
	if err != nil {
		metrics.PairRequests.WithLabelValues("schema_error").Inc()
		return nil, err
	}

	if el.Text == element.Nothing {
		metrics.PairRequests.WithLabelValues("nothing").Inc()
	} else {
		metrics.PairRequests.WithLabelValues("ok").Inc()
	}
	return el, nil
}

// Close shuts the browser down.
func (b *BrowserClient) Close() error {
	return b.browser.Close()
}
