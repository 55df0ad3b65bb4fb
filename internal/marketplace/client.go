// Package marketplace is the typed client wrapper around the bare-metal
// rental marketplace's four consumed endpoints (component B). It carries
// no retry or backoff logic of its own — it reports outcomes and lets the
// reconciliation engine sequence retries, per spec.md §4.B.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/unattended-backpack/magister/pkg/models"
)

const (
	defaultBaseURL = "https://cloud.vast.ai/api/v0"
	defaultTimeout = 30 * time.Second

	offersPath    = "/bundles"
	asksPath      = "/asks"
	instancesPath = "/instances"
)

// Client is a thin, stateless-except-for-connection-pool wrapper over the
// marketplace's HTTP API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the marketplace base URL (for tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the per-call transport deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit caps outbound request rate as a defense-in-depth
// companion to the marketplace's own 429 signal; the 429 itself remains
// the authoritative backoff trigger (handled by the reconciliation
// engine), this limiter only smooths bursts before they draw one.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// New creates a Client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOffers GETs the offers endpoint with the filter document q as a
// query parameter.
func (c *Client) ListOffers(ctx context.Context, query string) ([]models.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s%s/?q=%s", c.baseURL, offersPath, query)
	var resp offersResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp, "list_offers"); err != nil {
		return nil, err
	}
	return resp.Offers, nil
}

// Rent PUTs the create-instance endpoint for offerID. HTTP 429 is
// intercepted before any error wrapping and returned as RentRateLimited,
// never as an error.
func (c *Client) Rent(ctx context.Context, offerID uint64, templateHashID string, diskGB int, onstart string) RentOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return RentOutcome{Kind: RentFailed, Reason: err.Error()}
	}

	body := createInstanceRequest{
		TemplateHashID: templateHashID,
		Label:          "magister",
		Disk:           diskGB,
		Onstart:        &onstart,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return RentOutcome{Kind: RentFailed, Reason: err.Error()}
	}

	url := fmt.Sprintf("%s%s/%d/", c.baseURL, asksPath, offerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return RentOutcome{Kind: RentFailed, Reason: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RentOutcome{Kind: RentFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return RentOutcome{Kind: RentRateLimited}
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RentOutcome{Kind: RentFailed, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var decoded createInstanceResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return RentOutcome{Kind: RentFailed, Reason: err.Error()}
	}

	return RentOutcome{Kind: RentAccepted, InstanceID: decoded.NewContract}
}

// Destroy DELETEs the instance endpoint by id. A 429 here is treated as
// failed per spec.md §4.D Step 3 — destroy is not the rate-limited
// endpoint in practice.
func (c *Client) Destroy(ctx context.Context, instanceID uint64) DestroyOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s%s/%d/", c.baseURL, instancesPath, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return DestroyOutcome{Kind: DestroyFailed, Reason: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DestroyOutcome{Kind: DestroyFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return DestroyOutcome{Kind: DestroyFailed, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}
	return DestroyOutcome{Kind: DestroyOK}
}

// ListMyInstances GETs the account's current instance ids. Used only to
// detect zombies (instance_ids Magister holds locally but the marketplace
// no longer knows about).
func (c *Client) ListMyInstances(ctx context.Context) ([]uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s%s", c.baseURL, instancesPath)
	var resp instancesResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp, "list_my_instances"); err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(resp.Instances))
	for _, inst := range resp.Instances {
		ids = append(ids, inst.ID)
	}
	return ids, nil
}

// do performs a request, decoding a JSON body into out on 2xx and
// wrapping any non-success status as an *Error.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, out any, operation string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(operation, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
