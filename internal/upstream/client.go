package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"plantops.org/internal/auth"
	"plantops.org/internal/metrics"
	"plantops.org/internal/plant"
)

// CredentialSource supplies the bearer token attached to outgoing requests;
// typically the session guard's Credential method.
type CredentialSource func() (string, bool)

// Client talks to a remote plantops API over HTTP/JSON. It satisfies
// metrics.Source and session.IdentityResolver so the dashboard core can run
// against a remote deployment exactly as it runs in-process.
type Client struct {
	baseURL    string
	http       *http.Client
	credential CredentialSource
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCredentialSource attaches a bearer token provider.
func WithCredentialSource(src CredentialSource) ClientOption {
	return func(c *Client) { c.credential = src }
}

// NewClient creates a client with sensible defaults.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ metrics.Source = (*Client)(nil)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/token", nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", metrics.ErrMalformedResponse
	}
	return resp.AccessToken, nil
}

// Register creates an account and returns the new identity.
func (c *Client) Register(ctx context.Context, username, password, fullName string, role auth.Role) (auth.Identity, error) {
	var identity auth.Identity
	err := c.do(ctx, http.MethodPost, "/auth/register", nil, map[string]string{
		"username":  username,
		"password":  password,
		"full_name": fullName,
		"role":      string(role),
	}, &identity)
	return identity, err
}

// Resolve maps a credential to its identity via the /users/me endpoint.
// Satisfies session.IdentityResolver.
func (c *Client) Resolve(ctx context.Context, credential string) (auth.Identity, error) {
	var identity auth.Identity
	err := c.doWithToken(ctx, http.MethodGet, "/users/me", nil, nil, &identity, credential)
	return identity, err
}

// UpdateProfile changes the caller's full name and/or password.
func (c *Client) UpdateProfile(ctx context.Context, fullName, password *string) (auth.Identity, error) {
	body := map[string]any{}
	if fullName != nil {
		body["full_name"] = *fullName
	}
	if password != nil {
		body["password"] = *password
	}
	var identity auth.Identity
	err := c.do(ctx, http.MethodPut, "/users/me", nil, body, &identity)
	return identity, err
}

func (c *Client) ListMachines(ctx context.Context) ([]plant.Machine, error) {
	var out []plant.Machine
	err := c.do(ctx, http.MethodGet, "/machines/", nil, nil, &out)
	return out, err
}

func (c *Client) CreateMachine(ctx context.Context, m plant.Machine) (plant.Machine, error) {
	var out plant.Machine
	err := c.do(ctx, http.MethodPost, "/machines/", nil, m, &out)
	return out, err
}

func (c *Client) ListOrders(ctx context.Context) ([]plant.Order, error) {
	var out []plant.Order
	err := c.do(ctx, http.MethodGet, "/orders/", nil, nil, &out)
	return out, err
}

func (c *Client) CreateOrder(ctx context.Context, o plant.Order) (plant.Order, error) {
	var out plant.Order
	err := c.do(ctx, http.MethodPost, "/orders/", nil, o, &out)
	return out, err
}

func (c *Client) IngestEvents(ctx context.Context, events []plant.Event) ([]plant.Event, error) {
	var out struct {
		Events []plant.Event `json:"events"`
	}
	err := c.do(ctx, http.MethodPost, "/events/bulk", nil, events, &out)
	return out.Events, err
}

func (c *Client) ProductionByMachine(ctx context.Context, start, end *time.Time) ([]plant.ProductionSample, error) {
	params := url.Values{}
	if start != nil {
		params.Set("start", start.UTC().Format(time.RFC3339))
	}
	if end != nil {
		params.Set("end", end.UTC().Format(time.RFC3339))
	}
	var out []plant.ProductionSample
	err := c.do(ctx, http.MethodGet, "/reports/metrics/production", params, nil, &out)
	return out, err
}

func (c *Client) ProductionTrend(ctx context.Context, hours int) ([]plant.TrendPoint, error) {
	params := url.Values{}
	if hours > 0 {
		params.Set("hours", strconv.Itoa(hours))
	}
	var out []plant.TrendPoint
	err := c.do(ctx, http.MethodGet, "/reports/production_trend", params, nil, &out)
	return out, err
}

func (c *Client) OrdersByStatus(ctx context.Context) ([]plant.StatusCount, error) {
	var out []plant.StatusCount
	err := c.do(ctx, http.MethodGet, "/reports/orders_status", nil, nil, &out)
	return out, err
}

// WindowStats fetches the raw seconds/unit figures for an OEE window, so
// the aggregator computes the report locally from upstream data.
func (c *Client) WindowStats(ctx context.Context, machineID string, start, end time.Time) (plant.WindowStats, error) {
	params := url.Values{}
	params.Set("machine_id", machineID)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	var out plant.WindowStats
	err := c.do(ctx, http.MethodGet, "/reports/oee/window", params, nil, &out)
	return out, err
}

// do issues one JSON request using the configured credential source.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	token := ""
	if c.credential != nil {
		if t, ok := c.credential(); ok {
			token = t
		}
	}
	return c.doWithToken(ctx, method, path, params, body, out, token)
}

func (c *Client) doWithToken(ctx context.Context, method, path string, params url.Values, body, out any, token string) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", metrics.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", metrics.ErrMalformedResponse, err)
	}
	return nil
}

// statusError folds an HTTP error status into the core taxonomy.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail := readErrorDetail(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", metrics.ErrNotAuthenticated, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", metrics.ErrNotAuthorized, detail)
	case http.StatusBadRequest:
		if strings.Contains(detail, "after start") {
			return metrics.ErrInvalidRange
		}
		return fmt.Errorf("%w: %s", metrics.ErrInvalidInput, detail)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", metrics.ErrDivisionByZero, detail)
	}
	return fmt.Errorf("%w: status %d: %s", metrics.ErrUpstreamUnavailable, resp.StatusCode, detail)
}

func readErrorDetail(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
