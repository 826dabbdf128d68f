// Package remote is the client side of the history server's REST API.
//
// Failures are classified so callers can tell them apart: a server that
// cannot be reached is errs.Unavailable, a server that answers with a
// failure status is errs.Rejected, and a missing item is errs.NotFound.
package remote

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

	"golang.org/x/time/rate"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/history"
	"github.com/kuitang/cmdhist/internal/logutil"
	"github.com/kuitang/cmdhist/internal/obs"
	"github.com/kuitang/cmdhist/internal/ratelimit"
)

// HistoryPath is the collection endpoint, relative to the base URL.
const HistoryPath = "/api/v1/history"

const (
	maxLoggedBody   = 512
	maxResponseBody = 32 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RPS paces requests; zero disables pacing.
	RPS float64
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to one history server as one token holder.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
}

// New returns a Client for opts.BaseURL.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + HistoryPath,
		token:    opts.Token,
		http:     hc,
		limiter:  ratelimit.New(opts.RPS),
	}
}

type wireRecord struct {
	ID       string         `json:"id"`
	Command  string         `json:"command"`
	Username string         `json:"username,omitempty"`
	Host     string         `json:"host,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type listResponse struct {
	Commands []wireRecord `json:"commands"`
}

// BulkResponse is the server's per-command result for a bulk add.
type BulkResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
}

type bulkResponse struct {
	Responses []BulkResponse `json:"responses"`
}

// Search returns one page of records containing term in the given order.
// An empty term lists everything.
func (c *Client) Search(ctx context.Context, term string, order history.Order, page int) ([]history.Record, error) {
	q := url.Values{}
	if term != "" {
		q.Set("q", term)
	}
	if order != history.Forward {
		q.Set("o", string(order))
	}
	q.Set("p", strconv.Itoa(page))

	var out listResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	records := make([]history.Record, 0, len(out.Commands))
	for _, w := range out.Commands {
		records = append(records, history.Record{
			ID:       w.ID,
			Command:  w.Command,
			Username: w.Username,
			Host:     w.Host,
			Meta:     w.Meta,
		})
	}
	return records, nil
}

// Page returns one page of command text in forward order; an empty page
// marks the end of the data.
func (c *Client) Page(ctx context.Context, page int) ([]string, error) {
	records, err := c.Search(ctx, "", history.Forward, page)
	if err != nil {
		return nil, err
	}
	return history.Commands(records), nil
}

// Get fetches one record by id.
func (c *Client) Get(ctx context.Context, id string) (*history.Record, error) {
	var w wireRecord
	if err := c.do(ctx, http.MethodGet, c.itemURL(id), nil, http.StatusOK, &w); err != nil {
		return nil, err
	}
	return &history.Record{ID: w.ID, Command: w.Command, Username: w.Username, Host: w.Host, Meta: w.Meta}, nil
}

// Add uploads a single command.
func (c *Client) Add(ctx context.Context, command string) error {
	return c.do(ctx, http.MethodPost, c.endpoint, map[string]any{"command": command}, http.StatusCreated, nil)
}

// BulkAdd uploads commands in one request.
func (c *Client) BulkAdd(ctx context.Context, commands []string) error {
	_, err := c.BulkAddResponses(ctx, commands)
	return err
}

// BulkAddResponses uploads commands in one request and returns the
// server's per-command results.
func (c *Client) BulkAddResponses(ctx context.Context, commands []string) ([]BulkResponse, error) {
	var out bulkResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint, map[string]any{"commands": commands}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Responses, nil
}

// Annotate merges meta into the stored record. The server strips the
// reserved keys.
func (c *Client) Annotate(ctx context.Context, id string, meta map[string]any) error {
	return c.do(ctx, http.MethodPut, c.itemURL(id), map[string]any{"payload": meta}, http.StatusNoContent, nil)
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.itemURL(id), nil, http.StatusOK, nil)
}

func (c *Client) itemURL(id string) string {
	return c.endpoint + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, target string, body any, want int, out any) error {
	log := obs.From(ctx).With("pkg", "remote")

	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.Unavailable, "request cancelled", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid request", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", obs.RequestID(ctx))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	log.Debug("remote request", "method", method, "url", target, "headers", logutil.FormatHeadersForLog(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("remote unreachable", "method", method, "url", target, "error", err)
		return errs.Wrap(errs.Unavailable, "failed to connect to server, check settings", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return errs.Wrap(errs.Unavailable, "failed to read server response", err)
	}
	log.Debug("remote response",
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != want {
		preview := logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), respBody, maxLoggedBody)
		log.Warn("remote rejected request", "method", method, "status", resp.StatusCode, "body", preview)
		if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(target, c.endpoint+"/") {
			return errs.New(errs.NotFound, "no such history item")
		}
		return errs.New(errs.Rejected, fmt.Sprintf("server returned %d: %s", resp.StatusCode, serverMessage(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.Rejected, "malformed server response", err)
	}
	return nil
}

// serverMessage extracts {"error": "..."} when present, else a short
// single-line preview of the body.
func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if msg := logutil.TruncateForLog(string(body), 200); msg != "" {
		return msg
	}
	return "empty response"
}
