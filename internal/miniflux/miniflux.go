// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package miniflux implements a small client for the Miniflux API, covering
// only the calls the filter needs.
package miniflux

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.xela.dev/mffilter/internal/request"
)

// entriesPerRequest caps how many unread entries are fetched per feed in one
// call.
const entriesPerRequest = 1000

// Client talks to a Miniflux server.
type Client struct {
	baseURL  string
	token    string
	httpc    *http.Client
	scrubber *strings.Replacer
}

// NewClient returns a [Client] for the Miniflux server at baseURL,
// authenticating with the given API token. baseURL must not have a trailing
// slash. If httpc is nil, [request.DefaultClient] is used.
func NewClient(baseURL, token string, httpc *http.Client) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		httpc:    httpc,
		scrubber: strings.NewReplacer(token, "[EXPUNGED]"),
	}
}

// BaseURL returns the server URL this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// User is a Miniflux user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Feed is a Miniflux feed.
type Feed struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	SiteURL string `json:"site_url"`
	FeedURL string `json:"feed_url"`
}

// Entry is a Miniflux entry.
type Entry struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags"`
	Feed        *Feed     `json:"feed,omitempty"`
}

type entriesResponse struct {
	Total   int      `json:"total"`
	Entries []*Entry `json:"entries"`
}

// Me returns the authenticated user. It doubles as the startup
// connectivity and credentials probe.
func (c *Client) Me(ctx context.Context) (*User, error) {
	return call[*User](ctx, c, http.MethodGet, "/v1/me", nil)
}

// Feeds returns all feeds of the authenticated user.
func (c *Client) Feeds(ctx context.Context) ([]*Feed, error) {
	return call[[]*Feed](ctx, c, http.MethodGet, "/v1/feeds", nil)
}

// FeedByID returns a single feed.
func (c *Client) FeedByID(ctx context.Context, feedID int64) (*Feed, error) {
	return call[*Feed](ctx, c, http.MethodGet, fmt.Sprintf("/v1/feeds/%d", feedID), nil)
}

// UnreadEntries returns the unread entries of a feed, oldest first.
func (c *Client) UnreadEntries(ctx context.Context, feedID int64) ([]*Entry, error) {
	path := fmt.Sprintf("/v1/feeds/%d/entries?status=unread&direction=asc&limit=%d", feedID, entriesPerRequest)
	res, err := call[entriesResponse](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// MarkRead marks the given entries as read. Calling it with no ids is a
// no-op without a network call.
func (c *Client) MarkRead(ctx context.Context, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := call[request.IgnoreResponse](ctx, c, http.MethodPut, "/v1/entries", map[string]any{
		"entry_ids": entryIDs,
		"status":    "read",
	})
	return err
}

// call makes an authenticated request against the Miniflux API. The API
// token never appears in returned errors.
func call[Response any](ctx context.Context, c *Client, method, path string, body any) (Response, error) {
	return request.Make[Response](ctx, request.Params{
		Method: method,
		URL:    c.baseURL + path,
		Headers: map[string]string{
			"X-Auth-Token": c.token,
		},
		Body:       body,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
}
