// Package api implements the REST collaborators of a chat session:
// message history, read marking and the channel directory.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soratobu/chatstream/internal/domain"
	"github.com/soratobu/chatstream/internal/token"
	"github.com/soratobu/chatstream/pkg/log"
)

var (
	ErrBaseURLRequired = errors.New("api base url is required")
	// ErrChannelAccess means the caller may not read the channel
	// (the backend answered 403 or 404).
	ErrChannelAccess = errors.New("no access to channel")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s returned status %d", e.Path, e.Status)
}

// Client talks to the chat REST backend. Every request carries the
// x-api-key header and a bearer token from the token provider.
type Client struct {
	baseURL string
	apiKey  string
	tokens  token.Provider
	http    *http.Client

	// collapses concurrent read-marks for the same channel
	readSF singleflight.Group
}

func NewClient(baseURL, apiKey string, tokens token.Provider) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// FetchMessages returns one page of a channel's history. Nil params
// fetch the latest page with the server's default limit.
func (c *Client) FetchMessages(ctx context.Context, channelID string, params *domain.MessageParams) (*domain.MessageResponse, error) {
	path := "/messages/" + url.PathEscape(channelID)
	if params != nil {
		q := url.Values{}
		if params.Before != nil {
			q.Set("before", *params.Before)
		}
		if params.After != nil {
			q.Set("after", *params.After)
		}
		if params.Limit != nil {
			q.Set("limit", strconv.Itoa(*params.Limit))
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}

	var resp domain.MessageResponse
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks the channel's visible messages as read. Fire and
// forget: failures are logged and swallowed, and concurrent calls for
// the same channel are collapsed into one request.
func (c *Client) MarkRead(ctx context.Context, channelID string) {
	path := "/messages/" + url.PathEscape(channelID) + "/read"
	_, _, _ = c.readSF.Do(channelID, func() (interface{}, error) {
		if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChannelID, channelID).Msg("mark read failed")
		}
		return nil, nil
	})
}

// ListChannels returns the caller's channel directory.
func (c *Client) ListChannels(ctx context.Context) (*domain.ChannelResponse, error) {
	var resp domain.ChannelResponse
	if err := c.do(ctx, http.MethodGet, "/users/channels", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChannelAccess verifies the caller may read the channel and returns
// its display name. 403 and 404 map to ErrChannelAccess.
func (c *Client) ChannelAccess(ctx context.Context, channelID string) (string, error) {
	var ch domain.Channel
	err := c.do(ctx, http.MethodGet, "/users/messages/"+url.PathEscape(channelID), &ch)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusForbidden || se.Status == http.StatusNotFound) {
			return "", fmt.Errorf("%w: %s", ErrChannelAccess, channelID)
		}
		return "", err
	}
	return ch.DisplayName, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.tokens != nil {
		idToken, err := c.tokens.IDToken(ctx)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("no auth token for api request")
		} else {
			req.Header.Set("Authorization", idToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Status: resp.StatusCode, Path: path}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
