// Package client calls the ledger HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"uticoins/internal/model"
)

// DefaultTimeout bounds every request unless the caller's context is shorter.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// APIError is a non-claim error returned by the ledger.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger returned %d %s: %s", e.Status, e.Kind, e.Message)
}

// Balance is the balance endpoint's response.
type Balance struct {
	UserID       int64               `json:"user_id"`
	Balance      int64               `json:"balance"`
	Transactions []model.Transaction `json:"transactions"`
}

// Client is a ledger API client authenticated with a bearer token.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for baseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:       u,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CodeState fetches the current code state.
func (c *Client) CodeState(ctx context.Context) (*model.CodeState, error) {
	var state model.CodeState
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/code/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Claim submits code. A timeout is reported as a NetworkTimeout claim error:
// the claim may or may not have been applied.
func (c *Client) Claim(ctx context.Context, code string) (*model.ClaimResult, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	var res model.ClaimResult
	header, err := c.do(ctx, http.MethodPost, "/api/v1/code/claim", body, &res)
	if err != nil {
		return nil, err
	}
	res.Replayed, _ = strconv.ParseBool(header.Get("X-Claim-Replayed"))
	return &res, nil
}

// Balance fetches the balance and the last limit transactions.
func (c *Client) Balance(ctx context.Context, limit int) (*Balance, error) {
	path := "/api/v1/balance"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var b Balance
	if _, err := c.do(ctx, http.MethodGet, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewClaimError(model.ClaimNetworkTimeout, "%s %s: %v", method, path, err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewClaimError(model.ClaimNetworkTimeout, "reading response: %v", err)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}

// decodeError maps the error envelope back to a ClaimError where the kind is
// a claim kind.
func decodeError(status int, data []byte) error {
	var env struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Kind == "" {
		return &APIError{Status: status, Kind: http.StatusText(status), Message: strings.TrimSpace(string(data))}
	}

	switch kind := model.ClaimErrorKind(env.Error.Kind); kind {
	case model.ClaimNotClaimable, model.ClaimCodeMismatch, model.ClaimUnauthenticated, model.ClaimNetworkTimeout:
		return &model.ClaimError{Kind: kind, Message: env.Error.Message}
	}
	return &APIError{Status: status, Kind: env.Error.Kind, Message: env.Error.Message}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
