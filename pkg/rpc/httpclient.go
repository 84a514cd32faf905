package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/utils"
)

// ErrNoEndpoints is returned when every configured endpoint is missing or has an open breaker.
var ErrNoEndpoints = errors.New("no rpc endpoint available")

// HTTPClient talks JSON to one or more Canopy nodes. It rate limits with a token bucket and keeps a
// circuit breaker per endpoint, failing over to the next endpoint on transport or 5xx errors.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient. Zero values fall back to defaults.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// OptsFromEnv reads RPC_ENDPOINTS, RPC_TIMEOUT, RPC_RPS and RPC_BURST.
func OptsFromEnv() Opts {
	return Opts{
		Endpoints: utils.EnvList("RPC_ENDPOINTS", "http://localhost:50002"),
		Timeout:   utils.EnvDuration("RPC_TIMEOUT", 15*time.Second),
		RPS:       utils.EnvInt("RPC_RPS", 20),
		Burst:     utils.EnvInt("RPC_BURST", 40),
	}
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token, waiting for a refill when the bucket is empty.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen reports whether ep's breaker is open. An expired breaker is closed and its count reset.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// doJSON POSTs payload to path on the first healthy endpoint and decodes the response into out.
// Transport errors and 5xx responses count against the endpoint's breaker and move on to the next
// endpoint; 4xx responses move on without penalty.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return ErrNoEndpoints
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}

	lastErr := ErrNoEndpoints
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, ep+path, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%s%s: %w", ep, path, err)
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s%s: server %d", ep, path, resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%s%s: http %d", ep, path, resp.StatusCode)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				lastErr = fmt.Errorf("%s%s: decode: %w", ep, path, err)
				continue
			}
		}

		c.noteSuccess(ep)
		return utils.DrainAndClose(resp.Body)
	}

	return lastErr
}

// pageResp is the envelope of a paged query.
type pageResp[T any] struct {
	PageNumber int `json:"pageNumber"`
	PerPage    int `json:"perPage"`
	Results    []T `json:"results"`
	Count      int `json:"count"`
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
}

// ListPaged fetches every page of path. The first page is fetched to learn the page count; the rest are
// fetched concurrently and appended in page order.
func ListPaged[T any](ctx context.Context, c *HTTPClient, path string, args QueryByHeightRequest) ([]T, error) {
	var first pageResp[T]
	if err := c.doJSON(ctx, http.MethodPost, path, args, &first); err != nil {
		return nil, err
	}
	if first.TotalPages <= 1 {
		return first.Results, nil
	}

	pages := make([][]T, first.TotalPages+1)
	pages[1] = first.Results
	errs := make([]error, first.TotalPages+1)

	var wg sync.WaitGroup
	for p := 2; p <= first.TotalPages; p++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			var pr pageResp[T]
			errs[page] = c.doJSON(ctx, http.MethodPost, path, args.WithPage(page), &pr)
			pages[page] = pr.Results
		}(p)
	}
	wg.Wait()

	all := make([]T, 0, first.TotalCount)
	for p := 1; p <= first.TotalPages; p++ {
		if errs[p] != nil {
			return nil, fmt.Errorf("page %d of %s: %w", p, path, errs[p])
		}
		all = append(all, pages[p]...)
	}
	return all, nil
}
