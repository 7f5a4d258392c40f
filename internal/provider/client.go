package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"panelworks/stevedore/pkg/clients"
	"panelworks/stevedore/pkg/logging"
)

// Client talks to one upstream panel. Builders and parsers are pure; the
// client only moves bytes, so everything around it stays testable without
// a network.
type Client struct {
	spec        Spec
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config configures a provider client.
type Config struct {
	Spec                 Spec
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a client for one provider spec.
func NewClient(config Config) *Client {
	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}
	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	return &Client{
		spec:        config.Spec,
		httpClient:  &http.Client{Timeout: config.Spec.Timeout},
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// call sends one form-encoded request and returns the raw body. GET
// providers take the form in the query string, POST providers in the body.
func (c *Client) call(ctx context.Context, op string, form url.Values) ([]byte, error) {
	var req *http.Request
	var err error

	if c.spec.Method == http.MethodGet {
		u := c.spec.APIURL
		if strings.Contains(u, "?") {
			u = u + "&" + form.Encode()
		} else {
			u = u + "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.spec.APIURL, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logging.Fields{
			"op":          op,
			"status_code": resp.StatusCode,
		}).Warn("Provider returned non-2xx status")
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}

	return body, nil
}

// AddOrder places an order upstream and returns the provider's order id.
func (c *Client) AddOrder(ctx context.Context, serviceID, link string, quantity, runs, interval int) (*AddOrderResult, error) {
	body, err := c.call(ctx, ActionAdd, BuildAddOrder(c.spec, serviceID, link, quantity, runs, interval))
	if err != nil {
		return nil, err
	}
	return ParseAddOrder(body)
}

// OrderStatus fetches the upstream state of a forwarded order.
func (c *Client) OrderStatus(ctx context.Context, providerOrderID string) (*StatusResult, error) {
	body, err := c.call(ctx, ActionStatus, BuildOrderStatus(c.spec, providerOrderID))
	if err != nil {
		return nil, err
	}
	return ParseOrderStatus(body)
}

// Cancel asks the provider to cancel a forwarded order.
func (c *Client) Cancel(ctx context.Context, providerOrderID string) error {
	body, err := c.call(ctx, ActionCancel, BuildCancel(c.spec, providerOrderID))
	if err != nil {
		return err
	}
	return ParseAck(ActionCancel, body)
}

// Refill asks the provider to refill a forwarded order.
func (c *Client) Refill(ctx context.Context, providerOrderID string) error {
	body, err := c.call(ctx, ActionRefill, BuildRefill(c.spec, providerOrderID))
	if err != nil {
		return err
	}
	return ParseAck(ActionRefill, body)
}

// Balance fetches the reseller account balance at the provider.
func (c *Client) Balance(ctx context.Context) (*BalanceResult, error) {
	body, err := c.call(ctx, ActionBalance, BuildBalance(c.spec))
	if err != nil {
		return nil, err
	}
	return ParseBalance(body)
}
