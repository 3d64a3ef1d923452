// Package testutil provides a mock Twitch Helix server shared by package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses.
// Requests for any host are routed to it by the client returned from Client.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	hits  map[string]int
	users map[string]map[string]string
	live  map[string]map[string]interface{}
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
		users:    make(map[string]map[string]string),
		live:     make(map[string]map[string]interface{}),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	m.MockOAuthTokenResponse("mock-token", 3600)
	m.Handlers["/helix/users"] = m.serveUsers
	m.Handlers["/helix/streams"] = m.serveStreams
	return m
}

// Client returns an HTTP client that sends every request to the mock server.
func (m *MockTwitchServer) Client() *http.Client {
	return &http.Client{Transport: &rewriteTransport{host: strings.TrimPrefix(m.URL, "http://")}}
}

// Hits returns how many requests were made to path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// AddUser registers a user returned by /helix/users when its login is queried.
func (m *MockTwitchServer) AddUser(userID, login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[login] = map[string]string{"id": userID, "login": login, "display_name": login}
}

// SetLive marks userID as live with the given stream id and title.
func (m *MockTwitchServer) SetLive(userID, login, streamID, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[userID] = map[string]interface{}{
		"id":         streamID,
		"user_id":    userID,
		"user_login": login,
		"user_name":  login,
		"title":      title,
		"started_at": "2024-01-01T10:00:00Z",
	}
}

// SetOffline removes userID's live stream.
func (m *MockTwitchServer) SetOffline(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, userID)
}

func (m *MockTwitchServer) serveUsers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	data := []map[string]string{}
	for _, login := range r.URL.Query()["login"] {
		if u, ok := m.users[login]; ok {
			data = append(data, u)
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]interface{}{"data": data})
}

func (m *MockTwitchServer) serveStreams(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	data := []map[string]interface{}{}
	for _, id := range r.URL.Query()["user_id"] {
		if s, ok := m.live[id]; ok {
			data = append(data, s)
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]interface{}{"data": data, "pagination": map[string]string{}})
}

// MockStreamsResponse replaces the /helix/streams handler with a fixed response.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": streams})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// MockError makes path respond with status.
func (m *MockTwitchServer) MockError(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}
