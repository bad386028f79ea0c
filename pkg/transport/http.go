package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"

	"github.com/hashicorp/go-retryablehttp"
)

// HeaderNode carries the sender's PeerID on HTTP requests.
const HeaderNode = "X-Mesh-Node"

// HTTPChannel sends mesh requests as JSON POSTs to target + apiPath.
type HTTPChannel struct {
	client  *retryablehttp.Client
	node    models.PeerID
	timeout time.Duration
	metrics *metrics.Registry
}

// NewHTTPChannel creates an HTTP channel.
func NewHTTPChannel(opts Options) *HTTPChannel {
	return &HTTPChannel{
		client:  CreateClient(),
		node:    opts.Node,
		timeout: opts.timeout(),
		metrics: opts.Metrics,
	}
}

// CreateClient creates the HTTP client used by mesh channels. RetryMax is
// zero: a failed send is reported once and the caller owns the retry policy.
func CreateClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.CheckRetry = noRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// noRetryPolicy never retries and forwards responses of any status as-is,
// so remote error bodies reach the caller instead of a generic give-up error.
func noRetryPolicy(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

// Kind implements Channel.
func (c *HTTPChannel) Kind() models.TransportKind {
	return models.TransportHTTP
}

// Send implements Channel.
func (c *HTTPChannel) Send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.send(ctx, target, apiPath, payload)
	observe(c.metrics, models.TransportHTTP, start, err)
	return raw, err
}

func (c *HTTPChannel) send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonMalformed, fmt.Errorf("encode payload: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(string(target), "/") + apiPath
	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, url, []byte(body))
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.node != "" {
		req.Header.Set(HeaderNode, string(c.node))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(target, apiPath, classify(reqCtx, err), err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("peer", string(target)).Msg("Failed to close response body")
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, c.fail(target, apiPath, classify(reqCtx, err), err)
	}
	if len(data) > maxResponseBytes {
		return nil, c.fail(target, apiPath, ReasonMalformed, fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.fail(target, apiPath, ReasonRemote, remoteError(resp.StatusCode, data))
	}

	if !json.Valid(data) {
		return nil, c.fail(target, apiPath, ReasonMalformed, fmt.Errorf("response is not valid JSON"))
	}

	return json.RawMessage(data), nil
}

// Close implements Channel.
func (c *HTTPChannel) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (c *HTTPChannel) fail(target models.PeerID, apiPath string, reason Reason, err error) error {
	return newError(models.TransportHTTP, target, apiPath, reason, err)
}

// remoteError extracts {"error": "..."} from a failed response when present.
func remoteError(status int, body []byte) error {
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		return fmt.Errorf("status %d: %s", status, msg.Error)
	}
	return fmt.Errorf("status %d: %s", status, http.StatusText(status))
}
