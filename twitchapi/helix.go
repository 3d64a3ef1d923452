// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for login resolution and live stream lookups, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"

	// MaxQuerySize is the most values Helix accepts for a repeated query parameter.
	MaxQuerySize = 100
)

var (
	// ErrRequestFailed marks transient failures: transport errors and unexpected statuses.
	ErrRequestFailed = errors.New("twitch request failed")
	// ErrUnauthorized is returned when Helix still rejects the app token after one refresh.
	ErrUnauthorized = errors.New("twitch request unauthorized")
)

// User is a resolved Twitch account.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is a live broadcast. Two streams are the same broadcast iff their IDs match.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// SameStream reports identifier equality; title and other fields are ignored.
func (s Stream) SameStream(o Stream) bool { return s.ID == o.ID }

// HelixClient provides the lookups the recorder needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// NewHelixClient builds a client whose token source shares the same HTTP client.
func NewHelixClient(clientID, clientSecret string, hc *http.Client) *HelixClient {
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: clientID, ClientSecret: clientSecret, HTTPClient: hc},
		ClientID:       clientID,
		HTTPClient:     hc,
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUsers resolves login names to users. Unknown logins are simply absent from the result.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	c := &call{hc: hc}
	out := make([]User, 0, len(logins))
	for _, chunk := range chunks(logins, MaxQuerySize) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("login", l)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := c.get(ctx, "/users", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// GetStreams returns the live streams among users.
func (hc *HelixClient) GetStreams(ctx context.Context, users []User) ([]Stream, error) {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	c := &call{hc: hc}
	out := make([]Stream, 0)
	for _, chunk := range chunks(ids, MaxQuerySize) {
		after := ""
		for {
			q := url.Values{}
			for _, id := range chunk {
				q.Add("user_id", id)
			}
			q.Set("first", fmt.Sprintf("%d", MaxQuerySize))
			if after != "" {
				q.Set("after", after)
			}
			var body struct {
				Data       []Stream `json:"data"`
				Pagination struct {
					Cursor string `json:"cursor"`
				} `json:"pagination"`
			}
			if err := c.get(ctx, "/streams", q, &body); err != nil {
				return nil, err
			}
			out = append(out, body.Data...)
			// A chunk holds at most MaxQuerySize users and each has at most one live stream,
			// so a further page only exists if this one was full.
			if body.Pagination.Cursor == "" || len(body.Data) < MaxQuerySize {
				break
			}
			after = body.Pagination.Cursor
		}
	}
	return out, nil
}

// call carries per-call state: the token is refreshed at most once per public call.
type call struct {
	hc        *HelixClient
	refreshed bool
}

func (c *call) get(ctx context.Context, path string, q url.Values, out any) error {
	for {
		status, err := c.do(ctx, path, q, out)
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return nil
		}
		if c.refreshed {
			return fmt.Errorf("helix %s: %w", path, ErrUnauthorized)
		}
		slog.Info("twitch app token rejected; reauthorizing", slog.String("path", path))
		c.hc.AppTokenSource.Invalidate()
		c.refreshed = true
	}
}

func (c *call) do(ctx context.Context, path string, q url.Values, out any) (int, error) {
	tok, err := c.hc.AppTokenSource.Get(ctx)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", c.hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.hc.http().Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: helix %s: %v", ErrRequestFailed, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: helix %s: %s: %s", ErrRequestFailed, path, resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: helix %s: decode: %v", ErrRequestFailed, path, err)
	}
	return resp.StatusCode, nil
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
