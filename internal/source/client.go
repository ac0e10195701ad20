// Package source implements the item source against an HTTP/JSON scraper
// sidecar and reads article pages as markdown.
package source

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

	"github.com/user/feedlane/internal/types"
)

// Client talks to a sidecar that exposes the feed as JSON:
//
//	GET  /timeline?count=N
//	GET  /mentions?since_id=ID
//	GET  /search?q=QUERY&count=N
//	GET  /items/{id}
//	GET  /profiles/{username}
//	POST /posts {"text": ..., "in_reply_to_id": ...}
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a sidecar client. apiKey may be empty.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type itemsResponse struct {
	Items []types.Item `json:"items"`
}

type postRequest struct {
	Text        string `json:"text"`
	InReplyToID string `json:"in_reply_to_id,omitempty"`
}

func (c *Client) FetchTimeline(ctx context.Context, count int) ([]types.Item, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	return c.items(ctx, "/timeline", q)
}

func (c *Client) FetchMentions(ctx context.Context, sinceID string) ([]types.Item, error) {
	q := url.Values{}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	return c.items(ctx, "/mentions", q)
}

func (c *Client) Search(ctx context.Context, query string, count int) ([]types.Item, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	return c.items(ctx, "/search", q)
}

// FetchItem returns nil without error when the sidecar reports 404.
func (c *Client) FetchItem(ctx context.Context, id string) (*types.Item, error) {
	var item types.Item
	found, err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, nil, &item)
	if err != nil || !found {
		return nil, err
	}
	return &item, nil
}

// FetchProfile returns nil without error when the sidecar reports 404.
func (c *Client) FetchProfile(ctx context.Context, username string) (*types.Account, error) {
	var account types.Account
	found, err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(username), nil, nil, &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (c *Client) Post(ctx context.Context, text string) (*types.Item, error) {
	return c.post(ctx, postRequest{Text: text})
}

func (c *Client) Reply(ctx context.Context, inReplyToID, text string) (*types.Item, error) {
	return c.post(ctx, postRequest{Text: text, InReplyToID: inReplyToID})
}

func (c *Client) post(ctx context.Context, body postRequest) (*types.Item, error) {
	var item types.Item
	found, err := c.do(ctx, http.MethodPost, "/posts", nil, body, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("post: sidecar returned not found")
	}
	return &item, nil
}

func (c *Client) items(ctx context.Context, path string, q url.Values) ([]types.Item, error) {
	var resp itemsResponse
	if _, err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// permanentStatus reports a 4xx that retrying cannot fix. Timeouts and rate
// limits are left retryable.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

// do issues the request and decodes a 2xx body into out. A 404 reports
// found=false. Other 4xx answers wrap types.ErrRejected, except 408 and 429.
// Anything else non-2xx is a plain error.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) (bool, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if permanentStatus(resp.StatusCode) {
			return false, fmt.Errorf("%s %s: %w (status %d): %s", method, path, types.ErrRejected, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return false, fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse response: %w", err)
	}
	return true, nil
}
