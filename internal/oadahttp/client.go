// Package oadahttp is a reference wire.Conn implementation against an OADA
// HTTP API: JSON request/response for Head/Get/Put/Post/Delete, and an
// SSE-based Watch with reconnect-with-backoff. Transport resilience lives
// entirely here — the coordinator never retries a failed call itself.
package oadahttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// Client is an OADA HTTP client speaking to a single domain with a bearer
// token. It implements wire.Conn.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config configures a Client.
type Config struct {
	// Domain is the OADA server base URL, e.g. "https://api.oada.example.com".
	Domain string
	// Token is the bearer token sent on every request.
	Token string
	// Logger receives connection diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("oadahttp: Domain is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("oadahttp: Token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Domain, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*wire.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("oadahttp: marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("oadahttp: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oadahttp: performing request: %w", err)
	}
	defer resp.Body.Close()

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode == http.StatusNoContent {
		return &wire.Response{Headers: headers}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oadahttp: reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &wire.StatusError{Path: path, Status: resp.StatusCode}
	}

	if len(raw) == 0 {
		return &wire.Response{Headers: headers}, nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("oadahttp: decoding response: %w", err)
	}
	return &wire.Response{Data: data, Headers: headers}, nil
}

// Head implements wire.Conn.
func (c *Client) Head(ctx context.Context, path string) (*wire.Response, error) {
	return c.doJSON(ctx, http.MethodHead, path, nil)
}

// Get implements wire.Conn. When req.Tree is set, every link child named by
// the tree is resolved recursively so the caller gets one fully nested
// document back instead of a chain of {"_id": ...} link stubs.
func (c *Client) Get(ctx context.Context, req wire.GetRequest) (*wire.Response, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, req.Path, nil)
	if err != nil || req.Tree == nil {
		return resp, err
	}
	if err := c.resolveTree(ctx, req.Path, req.Tree, resp.Data); err != nil {
		return nil, err
	}
	return resp, nil
}

// Put implements wire.Conn. When req.Tree is set, every resource-boundary
// ancestor of req.Path that the tree describes is materialized first (per
// spec §4.5's POST-then-link-PUT protocol, the same one internal/metadata
// uses for its own bootstrap), so the final PUT below never lands on a path
// whose parents don't exist yet.
func (c *Client) Put(ctx context.Context, req wire.PutRequest) (*wire.Response, error) {
	if req.Tree != nil {
		if parent := parentPath(req.Path); parent != "" {
			if err := c.materializeTree(ctx, parent, req.Tree); err != nil {
				return nil, err
			}
		}
	}
	return c.doJSON(ctx, http.MethodPut, req.Path, req.Data)
}

// treeChild returns the tree node describing key's children, falling back
// to the wildcard "*" entry OADA trees use for "any key under here".
func treeChild(tree any, key string) any {
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil
	}
	if child, ok := obj[key]; ok {
		return child
	}
	return obj["*"]
}

// isResourceBoundary reports whether node names its own OADA resource
// (carries a "_type") rather than being plain nested JSON materialized as
// part of its parent resource's body.
func isResourceBoundary(node any) bool {
	obj, ok := node.(map[string]any)
	if !ok {
		return false
	}
	_, ok = obj["_type"]
	return ok
}

func parentPath(path string) string {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx]
}

// materializeTree walks path's segments against tree, creating the
// not-yet-existing resource at each resource-boundary ancestor: POST an
// empty resource, then PUT a {"_id": ...} link to it at that ancestor's
// path. Segments the tree describes as plain nested JSON (no "_type") are
// skipped — they come into being as part of their nearest resource
// ancestor's own body, not as a resource of their own.
func (c *Client) materializeTree(ctx context.Context, path string, tree any) error {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	node := tree
	built := ""
	for _, seg := range segments {
		built += "/" + seg
		node = treeChild(node, seg)
		if node == nil {
			return nil
		}
		if !isResourceBoundary(node) {
			continue
		}
		if _, err := c.doJSON(ctx, http.MethodHead, built, nil); err == nil {
			continue
		}
		resp, err := c.doJSON(ctx, http.MethodPost, "", map[string]any{})
		if err != nil {
			return fmt.Errorf("oadahttp: materializing %s: %w", built, err)
		}
		id := strings.TrimPrefix(resp.Headers["Location"], "/")
		if id == "" {
			return fmt.Errorf("oadahttp: tree materialize POST at %s returned no resource id", built)
		}
		if _, err := c.doJSON(ctx, http.MethodPut, built, map[string]any{"_id": id}); err != nil {
			return fmt.Errorf("oadahttp: linking %s: %w", built, err)
		}
	}
	return nil
}

// resolveTree recursively follows the link children tree names, replacing
// each {"_id": ...} stub in data with the linked resource's own body.
func (c *Client) resolveTree(ctx context.Context, path string, tree any, data any) error {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	for key, val := range obj {
		switch key {
		case "_id", "_rev", "_type", "_meta":
			continue
		}
		child := treeChild(tree, key)
		if child == nil {
			continue
		}
		link, ok := val.(map[string]any)
		if !ok {
			continue
		}
		id, ok := link["_id"].(string)
		if !ok || id == "" {
			continue
		}
		childResp, err := c.doJSON(ctx, http.MethodGet, "/"+strings.TrimPrefix(id, "/"), nil)
		if err != nil {
			return fmt.Errorf("oadahttp: resolving %s/%s: %w", path, key, err)
		}
		if err := c.resolveTree(ctx, path+"/"+key, child, childResp.Data); err != nil {
			return err
		}
		obj[key] = childResp.Data
	}
	return nil
}

// Post implements wire.Conn.
func (c *Client) Post(ctx context.Context, req wire.PostRequest) (*wire.Response, error) {
	return c.doJSON(ctx, http.MethodPost, "", req.Data)
}

// Delete implements wire.Conn.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, path, nil)
	return err
}

// Watch implements wire.Conn, opening an SSE change feed and reconnecting
// with exponential backoff (cenkalti/backoff) across transient failures.
// The returned channel is closed once ctx is canceled or the backoff policy
// gives up; the caller distinguishes the two via ctx.Err().
func (c *Client) Watch(ctx context.Context, req wire.WatchRequest) (<-chan wire.ChangeBatch, error) {
	out := make(chan wire.ChangeBatch, 16)
	go c.watchLoop(ctx, req, out)
	return out, nil
}

func (c *Client) watchLoop(ctx context.Context, req wire.WatchRequest, out chan<- wire.ChangeBatch) {
	defer close(out)

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	correlationID := uuid.NewString()
	var lastEventID string
	var mu sync.Mutex

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.stream(ctx, req, correlationID, &mu, &lastEventID, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			policy.Reset()
			continue
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error("oadahttp: giving up on watch reconnect", "error", err, "correlation_id", correlationID)
			return
		}
		c.logger.Warn("oadahttp: watch stream error, reconnecting",
			"error", err, "backoff", wait, "correlation_id", correlationID)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) stream(ctx context.Context, req wire.WatchRequest, correlationID string, mu *sync.Mutex, lastEventID *string, out chan<- wire.ChangeBatch) error {
	path := req.Path + "/_meta/_changes?type=" + req.Type
	if req.Rev > 0 {
		path += "&rev=" + strconv.FormatInt(req.Rev, 10)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("oadahttp: creating watch request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Correlation-ID", correlationID)

	mu.Lock()
	lastID := *lastEventID
	mu.Unlock()
	if lastID != "" {
		httpReq.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("oadahttp: watch connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &wire.StatusError{Path: req.Path, Status: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventID, eventData string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()

		if line == "" {
			if eventData != "" {
				batch, err := decodeChangeBatch(eventData)
				if err != nil {
					c.logger.Warn("oadahttp: dropping malformed change batch", "error", err)
				} else {
					select {
					case out <- batch:
					case <-ctx.Done():
						return nil
					}
				}
			}
			if eventID != "" {
				mu.Lock()
				*lastEventID = eventID
				mu.Unlock()
			}
			eventID, eventData = "", ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "id:") {
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		} else if strings.HasPrefix(line, "data:") {
			eventData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("oadahttp: watch stream read: %w", err)
	}
	return fmt.Errorf("oadahttp: watch stream closed by server")
}

// wireChange is the on-the-wire shape of one sub-change, as OADA's change
// feed delivers it.
type wireChange struct {
	Type       string `json:"type"`
	Path       string `json:"path"`
	Body       any    `json:"body"`
	ResourceID string `json:"resource_id"`
}

func decodeChangeBatch(raw string) (wire.ChangeBatch, error) {
	var changes []wireChange
	if err := json.Unmarshal([]byte(raw), &changes); err != nil {
		return wire.ChangeBatch{}, err
	}
	if len(changes) == 0 {
		return wire.ChangeBatch{}, fmt.Errorf("empty change batch")
	}

	toChange := func(w wireChange) wire.Change {
		return wire.Change{
			Type:       wire.ChangeType(w.Type),
			Path:       w.Path,
			Body:       w.Body,
			ResourceID: w.ResourceID,
		}
	}

	batch := wire.ChangeBatch{Root: toChange(changes[0])}
	for _, w := range changes[1:] {
		batch.Children = append(batch.Children, toChange(w))
	}
	return batch, nil
}
