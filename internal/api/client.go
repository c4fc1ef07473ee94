// Package api is the REST side of the chat service: paginated history,
// member listings and the roster fetch. It is a collaborator of the
// real-time core, not part of it; nothing here touches store state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c-pro/geche"

	"campuschat/internal/auth"
	"campuschat/internal/domain"
	chaterrors "campuschat/pkg/errors"
	"campuschat/pkg/logger"
)

const (
	defaultTimeout = 15 * time.Second
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Pagination is the common page envelope of the list endpoints.
type Pagination struct {
	Page    int  `json:"page"`
	HasNext bool `json:"has_next"`
}

type HistoryPage struct {
	Items []domain.Message `json:"items"`
	Pagination
}

type MemberPage struct {
	Items []domain.ChatMember `json:"items"`
	Pagination
}

type RosterPage struct {
	Items []domain.RosterEntry `json:"items"`
	Pagination
}

type Options struct {
	BaseURL        string
	Tokens         auth.TokenSource
	Log            *logger.Logger
	HTTPClient     *http.Client
	MemberCacheTTL time.Duration
}

type Client struct {
	base    string
	http    *http.Client
	tokens  auth.TokenSource
	log     *logger.Logger
	members geche.Geche[string, []domain.ChatMember]
}

func NewClient(ctx context.Context, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.MemberCacheTTL == 0 {
		opts.MemberCacheTTL = 5 * time.Minute
	}
	return &Client{
		base:    opts.BaseURL,
		http:    opts.HTTPClient,
		tokens:  opts.Tokens,
		log:     opts.Log,
		members: geche.NewMapTTLCache[string, []domain.ChatMember](ctx, opts.MemberCacheTTL, time.Minute),
	}
}

// History fetches one page of a chat's messages. Items within a page
// are ordered oldest to newest; pages are requested newest-first with
// page=1.
func (c *Client) History(ctx context.Context, chatID string, page int) (HistoryPage, error) {
	return getJSON[HistoryPage](ctx, c, fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID)), page)
}

// Members fetches one page of a chat's membership, serving repeat
// lookups from a short TTL cache. Only page 1 is cached; deep pages
// are rare enough to fetch every time.
func (c *Client) Members(ctx context.Context, chatID string, page int) (MemberPage, error) {
	if page <= 1 {
		if cached, err := c.members.Get(chatID); err == nil {
			return MemberPage{Items: cached, Pagination: Pagination{Page: 1, HasNext: false}}, nil
		}
	}
	res, err := getJSON[MemberPage](ctx, c, fmt.Sprintf("/chats/%s/members", url.PathEscape(chatID)), page)
	if err != nil {
		return MemberPage{}, err
	}
	if page <= 1 && !res.HasNext {
		c.members.Set(chatID, res.Items)
	}
	return res, nil
}

// InvalidateMembers drops the cached member list for a chat, e.g.
// after a membership change observed out of band.
func (c *Client) InvalidateMembers(chatID string) {
	_ = c.members.Del(chatID)
}

// Chats fetches one page of the user's roster.
func (c *Client) Chats(ctx context.Context, page int) (RosterPage, error) {
	return getJSON[RosterPage](ctx, c, "/chats", page)
}

// getJSON performs an authorized GET with retry on transient failures
// and decodes the body into T. All failures wrap ErrFetchFailed so
// callers can surface a uniform retry UI.
func getJSON[T any](ctx context.Context, c *Client, path string, page int) (T, error) {
	var zero T

	u, err := url.Parse(c.base + path)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", chaterrors.ErrFetchFailed, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := retryWithBackoff(ctx, c.log, maxRetries, retryBaseDelay, func() ([]byte, bool, error) {
		return c.do(ctx, u.String())
	})
	if err != nil {
		return zero, fmt.Errorf("%w: GET %s: %v", chaterrors.ErrFetchFailed, path, err)
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", chaterrors.ErrFetchFailed, path, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// retryWithBackoff retries an operation with exponential delays. The
// operation reports whether its failure is worth retrying.
func retryWithBackoff[T any](ctx context.Context, log *logger.Logger, maxAttempts int, baseDelay time.Duration, op func() (T, bool, error)) (T, error) {
	var result T
	var err error
	var shouldRetry bool

	for i := 0; i <= maxAttempts; i++ {
		result, shouldRetry, err = op()
		if err == nil {
			return result, nil
		}
		if !shouldRetry || i == maxAttempts {
			break
		}
		delay := baseDelay * time.Duration(math.Pow(2, float64(i)))
		log.Debugf("request failed, retrying in %s: %v", delay, err)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, err
}
