// Package upstream fetches items, the live max id, the front-page list,
// and the change feed from the external news-and-discussion API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/pkg/fn"
	"github.com/philippdubach/hn-archiver-go/pkg/resilience"
)

// ErrNotFound marks a 404 from item(id) — resolved to "absent", not an error.
var ErrNotFound = errors.New("item not found")

// Config configures a Client.
type Config struct {
	BaseURL            string
	RequestTimeout     time.Duration
	MaxRetries         int
	InitialBackoff     time.Duration
	ConcurrentRequests int
	RateLimit          resilience.LimiterOpts
	Breaker            resilience.BreakerOpts
}

// DefaultConfig mirrors the Upstream Client contract's defaults.
var DefaultConfig = Config{
	BaseURL:            "https://hacker-news.firebaseio.com/v0",
	RequestTimeout:     10 * time.Second,
	MaxRetries:         3,
	InitialBackoff:     time.Second,
	ConcurrentRequests: 100,
	RateLimit:          resilience.LimiterOpts{Rate: 50, Burst: 50},
	Breaker:            resilience.DefaultBreakerOpts,
}

// Client is the sole gateway to the external API: every call awaits a
// token from a shared bucket, runs behind a circuit breaker, and retries
// with exponential backoff on transient failure.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// New constructs a Client from cfg, filling unset fields from DefaultConfig.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.ConcurrentRequests <= 0 {
		cfg.ConcurrentRequests = DefaultConfig.ConcurrentRequests
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit = DefaultConfig.RateLimit
	}
	if cfg.Breaker.FailThreshold == 0 {
		cfg.Breaker = DefaultConfig.Breaker
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: resilience.NewLimiter(cfg.RateLimit),
		breaker: resilience.NewBreaker(cfg.Breaker),
	}
}

// MaxItemID returns the current live max item id.
func (c *Client) MaxItemID(ctx context.Context) (int64, error) {
	result := getJSON(c, ctx, "/maxitem.json", func(body io.Reader) (int64, error) {
		var id int64
		err := json.NewDecoder(body).Decode(&id)
		return id, err
	})
	return result.Unwrap()
}

// Item fetches one item by id. A 404 or a JSON `null` body both resolve
// to (nil, nil) — "absent", not an error.
func (c *Client) Item(ctx context.Context, id int64) (*domain.Item, error) {
	result := getJSON(c, ctx, fmt.Sprintf("/item/%d.json", id), func(body io.Reader) (*itemPayload, error) {
		var payload *itemPayload
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
	payload, err := result.Unwrap()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return payload.toItem(), nil
}

// ItemsBatch fans fetches out with a hard concurrency cap. Individual
// failures are absorbed: the returned slice is the successful subset,
// in arbitrary order — callers must not rely on its length equalling
// len(ids).
func (c *Client) ItemsBatch(ctx context.Context, ids []int64) []domain.Item {
	results := fn.ParMapResult(ids, c.cfg.ConcurrentRequests, func(id int64) fn.Result[*domain.Item] {
		item, err := c.Item(ctx, id)
		if err != nil {
			return fn.Err[*domain.Item](err)
		}
		return fn.Ok(item)
	})

	out := make([]domain.Item, 0, len(results))
	for _, r := range results {
		item, err := r.Unwrap()
		if err != nil || item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}

// TopStories returns the current front-page id list.
func (c *Client) TopStories(ctx context.Context) ([]int64, error) {
	result := getJSON(c, ctx, "/topstories.json", func(body io.Reader) ([]int64, error) {
		var ids []int64
		err := json.NewDecoder(body).Decode(&ids)
		return ids, err
	})
	return result.Unwrap()
}

// UpdatesResult is the change feed: touched item ids plus changed user profiles.
type UpdatesResult struct {
	Items    []int64
	Profiles []string
}

// Updates returns the change feed since the last poll.
func (c *Client) Updates(ctx context.Context) (UpdatesResult, error) {
	result := getJSON(c, ctx, "/updates.json", func(body io.Reader) (UpdatesResult, error) {
		var payload struct {
			Items    []int64  `json:"items"`
			Profiles []string `json:"profiles"`
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return UpdatesResult{}, err
		}
		return UpdatesResult{Items: payload.Items, Profiles: payload.Profiles}, nil
	})
	return result.Unwrap()
}

// getJSON retries a GET+decode behind the rate limiter and circuit
// breaker, mirroring the teacher's retry/backoff shape. A 404 is a
// legitimate "absent" outcome, not a fault: it is neither retried nor
// counted against the breaker. It is a free function, not a method,
// because Go methods cannot carry their own type parameters.
func getJSON[T any](c *Client, ctx context.Context, path string, decode func(io.Reader) (T, error)) fn.Result[T] {
	var notFound bool

	result := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[T] {
		return fn.Retry(ctx, fn.RetryOpts{
			MaxAttempts: c.cfg.MaxRetries,
			InitialWait: c.cfg.InitialBackoff,
			MaxWait:     30 * time.Second,
			Jitter:      false,
		}, func(ctx context.Context) fn.Result[T] {
			if err := c.limiter.Wait(ctx); err != nil {
				return fn.Err[T](err)
			}

			body, err := c.httpGet(ctx, path)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					notFound = true
					var zero T
					return fn.Ok(zero)
				}
				return fn.Err[T](err)
			}
			defer body.Close()

			v, err := decode(body)
			if err != nil {
				return fn.Err[T](fmt.Errorf("decode %s: %w", path, err))
			}
			return fn.Ok(v)
		})
	})

	if notFound {
		return fn.Err[T](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	return result
}

func (c *Client) httpGet(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, path)
	}
	return resp.Body, nil
}
