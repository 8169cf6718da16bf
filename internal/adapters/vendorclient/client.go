// Package vendorclient submits jobs to vendor HTTP APIs on behalf of pipelines.
package vendorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
	"golang.org/x/time/rate"
)

const maxErrorBodyBytes = 4 << 10

var (
	// ErrNoProvider indicates no submission URL is configured for a vendor's provider.
	ErrNoProvider = errors.New("no provider configured for vendor")
	// ErrCallbackBaseRequired indicates the client cannot build callback URLs.
	ErrCallbackBaseRequired = errors.New("callback base URL is required")
)

// Provider is one vendor API family (media, voice, song).
type Provider struct {
	URL    string
	APIKey string
	// RPS and Burst bound submissions to this provider; RPS <= 0 disables limiting.
	RPS   float64
	Burst int
}

// EndpointResolver maps a vendor to the callback endpoint family it belongs to.
type EndpointResolver interface {
	EndpointFor(vendor model.Vendor) (string, bool)
}

// Options configure a Client.
type Options struct {
	HTTPClient *http.Client
	// Providers is keyed by callback endpoint family.
	Providers       map[string]Provider
	CallbackBaseURL string
	Resolver        EndpointResolver
	Retry           RetryConfig
	Logger          *slog.Logger
}

// SubmitRequest is the body POSTed to a provider.
type SubmitRequest struct {
	TaskID          string            `json:"taskId"`
	Ability         model.Vendor      `json:"ability"`
	CallbackURL     string            `json:"callbackUrl"`
	BusinessMessage string            `json:"businessMessage,omitempty"`
	Input           map[string]string `json:"input,omitempty"`
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vendor responded %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the response is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client submits vendor jobs with per-provider rate limiting and retries.
type Client struct {
	http      *http.Client
	providers map[string]Provider
	callback  *url.URL
	resolver  EndpointResolver
	retry     RetryConfig
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.CallbackBaseURL) == "" {
		return nil, ErrCallbackBaseRequired
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.CallbackBaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse callback base URL: %w", err)
	}
	if opts.Resolver == nil {
		return nil, errors.New("endpoint resolver is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:      hc,
		providers: opts.Providers,
		callback:  base,
		resolver:  opts.Resolver,
		retry:     opts.Retry.withDefaults(),
		logger:    logger.With("component", "vendor_client"),
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// SubmitFunc adapts the client to a pipeline stage for vendor.
func (c *Client) SubmitFunc(vendor model.Vendor, businessMessage string) task.SubmitFunc {
	return func(ctx context.Context, jobID string, input map[string]string) error {
		return c.Submit(ctx, SubmitRequest{
			TaskID:          jobID,
			Ability:         vendor,
			BusinessMessage: businessMessage,
			Input:           input,
		})
	}
}

// Submit POSTs req to the provider serving req.Ability. The callback URL is filled in when empty.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	endpoint, ok := c.resolver.EndpointFor(req.Ability)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProvider, req.Ability)
	}
	provider, ok := c.providers[endpoint]
	if !ok || provider.URL == "" {
		return fmt.Errorf("%w: %s (%s)", ErrNoProvider, req.Ability, endpoint)
	}
	if req.CallbackURL == "" {
		req.CallbackURL = c.callback.JoinPath("callbacks", endpoint).String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}

	limiter := c.limiter(endpoint, provider)
	attempts := 0
	err = c.retry.do(ctx, func() error {
		attempts++
		if limiter != nil {
			if waitErr := limiter.Wait(ctx); waitErr != nil {
				return permanent(fmt.Errorf("rate limit wait: %w", waitErr))
			}
		}
		return c.post(ctx, provider, body)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "vendor submission failed",
			"job_id", req.TaskID,
			"vendor", req.Ability,
			"attempts", attempts,
			"error", err)
		return err
	}
	c.logger.InfoContext(ctx, "vendor job submitted",
		"job_id", req.TaskID,
		"vendor", req.Ability,
		"attempts", attempts)
	return nil
}

func (c *Client) limiter(endpoint string, p Provider) *rate.Limiter {
	if p.RPS <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[endpoint]
	if !ok {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(p.RPS), burst)
		c.limiters[endpoint] = l
	}
	return l
}

func (c *Client) post(ctx context.Context, p Provider, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	if !statusErr.Temporary() {
		return permanent(statusErr)
	}
	return statusErr
}
