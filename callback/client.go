package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/userport/enrichment-worker/resilience"
	"github.com/userport/enrichment-worker/task"
)

// Client delivers CallbackEnvelope payloads to the lead-enrichment receiver,
// auto-paginating terminal envelopes whose lead sets are too large for a
// single delivery. Every outbound POST carries an OIDC bearer token and
// goes through ConnectionPool -> RetryDriver exactly as §4.9 specifies,
// with the same 5-attempt/1s-base/30s-max policy the original Python
// service's CALLBACK_RETRY_CONFIG used.
type Client struct {
	baseURL      string
	callbackPath string
	tokens       TokenSource
	pool         *resilience.ConnectionPool
	retry        *resilience.RetryDriver
}

func NewClient(baseURL, callbackPath string, tokens TokenSource, pool *resilience.ConnectionPool) *Client {
	return &Client{
		baseURL:      baseURL,
		callbackPath: callbackPath,
		tokens:       tokens,
		pool:         pool,
		retry:        resilience.NewRetryDriver(resilience.DefaultRetryConfig()),
	}
}

// Send delivers env, automatically paginating when leads is large enough
// per ShouldPaginate. Stops and returns the first page-send error — per
// spec §4.9, pagination failure mid-stream is fatal; partial delivery is
// the caller's responsibility to detect via duplicate-safe receivers.
func (c *Client) Send(ctx context.Context, env task.CallbackEnvelope, leads LeadSet) error {
	if !ShouldPaginate(leads) {
		return c.sendOne(ctx, env)
	}

	pages := Paginate(env, leads)
	for _, page := range pages {
		if err := c.sendOne(ctx, page); err != nil {
			return fmt.Errorf("paginated callback page %d/%d failed: %w", page.Pagination.Page, page.Pagination.TotalPages, err)
		}
	}
	return nil
}

func (c *Client) sendOne(ctx context.Context, env task.CallbackEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal callback envelope: %w", err)
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		handle, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer c.pool.Release(handle)

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquire OIDC token: %w", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, 300*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.callbackPath, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build callback request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := handle.Client().Do(req)
		if err != nil {
			return fmt.Errorf("callback request failed: %w", err)
		}
		defer resp.Body.Close()

		return resilience.WrapHTTPStatus(resp.StatusCode, "callback.send")
	})
}
