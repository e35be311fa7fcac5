package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

// DefaultTimeout bounds a single RPC call.
const DefaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the service rejects the token.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the backup service. It implements syncer.Remote.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backup stores the debtor array of market remotely.
func (c *Client) Backup(ctx context.Context, market string, debtors []core.Debtor) error {
	if debtors == nil {
		debtors = []core.Debtor{}
	}
	var resp BackupResponse
	if err := c.call(ctx, PathBackup, BackupRequest{MarketID: market, Debtors: debtors}, &resp); err != nil {
		return err
	}
	c.logger.Debug("rpc backup", "market", market, "stored", resp.Stored)
	return nil
}

// Fetch returns the remote debtor array of market, empty when none exists.
func (c *Client) Fetch(ctx context.Context, market string) ([]core.Debtor, error) {
	var resp FetchResponse
	if err := c.call(ctx, PathFetch, FetchRequest{MarketID: market}, &resp); err != nil {
		return nil, err
	}
	if resp.Debtors == nil {
		resp.Debtors = []core.Debtor{}
	}
	return resp.Debtors, nil
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrRemote, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return statusError(path, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", core.ErrRemote, path, err)
	}
	return nil
}

func statusError(path string, res *http.Response) error {
	var e ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", path, core.ErrRateLimited)
	case res.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: bad request: %s", path, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", core.ErrRemote, path, res.StatusCode, msg)
	}
}
