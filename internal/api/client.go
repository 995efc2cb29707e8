// Package api is the REST persistence collaborator: it owns canonical storage
// of inventory lines and finalized counts, and exposes the narrow write
// surface the capture session persists through.
//
// A 409-class response maps to capture.ErrConflict so the session can lock
// the line; timeouts and other failures stay transient.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mvidal/conteo/internal/capture"
	"github.com/mvidal/conteo/internal/types"
)

// Config holds client construction parameters
type Config struct {
	// BaseURL is the API root, e.g. "https://inventory.example.com/api"
	BaseURL string
	// Token is sent as a bearer token when non-empty
	Token string
	// HTTPClient defaults to a client with the configured timeout
	HTTPClient *http.Client
	// RequestsPerSecond throttles outgoing calls; 0 disables throttling
	RequestsPerSecond float64
	// Logger defaults to a fresh logrus logger
	Logger *logrus.Logger
}

// Client talks to the inventory backend. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		limiter: limiter,
		log:     log,
	}, nil
}

// Scope selects which inventory lines a snapshot query returns
type Scope struct {
	OperationID string
	GroupID     string
	CountID     string
}

// SetQuantity persists a line's counted quantity; nil clears it back to
// null. Implements capture.Persister.
func (c *Client) SetQuantity(ctx context.Context, lineID string, qty *decimal.Decimal) error {
	body := struct {
		CountedQty *decimal.Decimal `json:"counted_qty"`
	}{CountedQty: qty}

	path := fmt.Sprintf("/inventory-lines/%s/quantity", url.PathEscape(lineID))
	return c.send(ctx, http.MethodPut, path, body, nil)
}

// SetNotFound persists the not-found flag, keyed by count and item code
// rather than line id. Implements capture.Persister.
func (c *Client) SetNotFound(ctx context.Context, countID, itemCode string, value bool) error {
	body := struct {
		Value bool `json:"value"`
	}{Value: value}

	path := fmt.Sprintf("/counts/%s/items/%s/not-found",
		url.PathEscape(countID), url.PathEscape(itemCode))
	return c.send(ctx, http.MethodPut, path, body, nil)
}

// Lines returns the current snapshot of open inventory lines in scope
func (c *Client) Lines(ctx context.Context, scope Scope) ([]*types.InventoryLine, error) {
	q := url.Values{}
	if scope.OperationID != "" {
		q.Set("operation_id", scope.OperationID)
	}
	if scope.GroupID != "" {
		q.Set("group_id", scope.GroupID)
	}
	if scope.CountID != "" {
		q.Set("count_id", scope.CountID)
	}
	path := "/inventory-lines"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var lines []*types.InventoryLine
	if err := c.send(ctx, http.MethodGet, path, nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// FinalizedCounts returns every finalized count observation for an operation,
// across groups and slots. Input for the reconciliation engine.
func (c *Client) FinalizedCounts(ctx context.Context, operationID string) ([]types.CountRecord, error) {
	path := fmt.Sprintf("/operations/%s/finalized-counts", url.PathEscape(operationID))

	var records []types.CountRecord
	if err := c.send(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusLocked:
		c.log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("backend reported a conflicting edit")
		return fmt.Errorf("%s %s: %w", method, path, capture.ErrConflict)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return nil
}
