package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffyan/searx-front/internal/config"
	"github.com/cliffyan/searx-front/internal/searx"
)

type searchCall struct {
	query string
	page  int
}

// stubResolver returns n items per page from a fixed instance, or err.
type stubResolver struct {
	mu    sync.Mutex
	calls []searchCall
	n     int
	err   error
}

func (s *stubResolver) Search(ctx context.Context, query string, page int) (*searx.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, searchCall{query, page})
	if s.err != nil {
		return nil, s.err
	}
	items := make([]searx.Item, s.n)
	for i := range items {
		items[i] = searx.Item{
			Title: fmt.Sprintf("%s p%d #%d", query, page, i),
			URL:   fmt.Sprintf("http://example.com/%d/%d", page, i),
		}
	}
	return &searx.Response{Items: items, Instance: "https://searx.example"}, nil
}

func (s *stubResolver) Instances() []string {
	return []string{"https://searx.example", "https://backup.example"}
}

func (s *stubResolver) callCount() int {
	return len(s.recorded())
}

func (s *stubResolver) recorded() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]searchCall(nil), s.calls...)
}

func newTestServer(t *testing.T, cfg *config.Config, res Resolver) (*Server, *httptest.Server, *http.Client) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	s := New(cfg, res)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return s, ts, &http.Client{Jar: jar}
}

func getDoc(t *testing.T, client *http.Client, target string) *goquery.Document {
	t.Helper()
	resp, err := client.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return doc
}

func postDoc(t *testing.T, client *http.Client, target string, form url.Values) *goquery.Document {
	t.Helper()
	resp, err := client.PostForm(target, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return doc
}

func TestIndexCreatesSession(t *testing.T) {
	s, ts, client := newTestServer(t, nil, &stubResolver{})

	doc := getDoc(t, client, ts.URL+"/")
	assert.Equal(t, 1, doc.Find("#searchForm").Length())

	u, _ := url.Parse(ts.URL)
	cookies := client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)

	getDoc(t, client, ts.URL+"/")
	s.sessionsMu.RLock()
	assert.Len(t, s.sessions, 1, "cookie should reuse the session")
	s.sessionsMu.RUnlock()
}

func TestSearchAndPaging(t *testing.T) {
	res := &stubResolver{n: 10}
	_, ts, client := newTestServer(t, nil, res)

	doc := getDoc(t, client, ts.URL+"/search?q=cats")
	assert.Equal(t, 10, doc.Find("article.result").Length())
	assert.Equal(t, "Showing results from https://searx.example", doc.Find("#info").Text())
	assert.Equal(t, 0, doc.Find("button#prev").Length())
	assert.Equal(t, 1, doc.Find("button#next").Length())

	doc = postDoc(t, client, ts.URL+"/pager", url.Values{"dir": {"next"}})
	assert.Equal(t, "cats p2 #0", doc.Find("article.result .title a").First().Text())
	assert.Equal(t, 1, doc.Find("button#prev").Length())

	doc = postDoc(t, client, ts.URL+"/pager", url.Values{"dir": {"prev"}})
	assert.Equal(t, "cats p1 #0", doc.Find("article.result .title a").First().Text())

	assert.Equal(t, []searchCall{{"cats", 1}, {"cats", 2}, {"cats", 1}}, res.recorded())
}

func TestBlankSearchLeavesPageUnchanged(t *testing.T) {
	res := &stubResolver{n: 3}
	_, ts, client := newTestServer(t, nil, res)

	getDoc(t, client, ts.URL+"/search?q=cats")
	doc := getDoc(t, client, ts.URL+"/search?q="+url.QueryEscape("   "))

	assert.Equal(t, 3, doc.Find("article.result").Length())
	val, _ := doc.Find("input#q").Attr("value")
	assert.Equal(t, "cats", val)
	assert.Equal(t, 1, res.callCount())
}

func TestSessionsAreIndependent(t *testing.T) {
	res := &stubResolver{n: 1}
	_, ts, alice := newTestServer(t, nil, res)
	jar, _ := cookiejar.New(nil)
	bob := &http.Client{Jar: jar}

	getDoc(t, alice, ts.URL+"/search?q=cats")
	doc := getDoc(t, bob, ts.URL+"/")
	assert.Equal(t, 0, doc.Find("article.result").Length())
}

func TestPagerRejectsUnknownDirection(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.PostForm(ts.URL+"/pager", url.Values{"dir": {"sideways"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchFailureRendersError(t *testing.T) {
	res := &stubResolver{err: &searx.AllFailedError{Tried: []string{"https://a", "https://b"}}}
	_, ts, client := newTestServer(t, nil, res)

	doc := getDoc(t, client, ts.URL+"/search?q=cats")
	assert.Equal(t, "Error: all instances failed: https://a, https://b", doc.Find(".error").Text())
	assert.Equal(t, "Search failed: all instances failed: https://a, https://b", doc.Find("#info").Text())
}

func TestAPISearch(t *testing.T) {
	res := &stubResolver{n: 10}
	_, ts, client := newTestServer(t, nil, res)

	resp, err := client.Get(ts.URL + "/api/search?q=cats&page=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "cats", body.Query)
	assert.Equal(t, 3, body.Page)
	assert.Equal(t, "https://searx.example", body.Instance)
	assert.Len(t, body.Results, 10)
	assert.True(t, body.Prev)
	assert.True(t, body.Next)
}

func TestAPISearchBadInput(t *testing.T) {
	res := &stubResolver{n: 1}
	_, ts, client := newTestServer(t, nil, res)

	for _, q := range []string{"?q=", "?q=%20", "?q=cats&page=0", "?q=cats&page=x"} {
		resp, err := client.Get(ts.URL + "/api/search" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	assert.Equal(t, 0, res.callCount())
}

func TestAPISearchAllFailed(t *testing.T) {
	res := &stubResolver{err: &searx.AllFailedError{Tried: []string{"https://a", "https://b"}}}
	_, ts, client := newTestServer(t, nil, res)

	resp, err := client.Get(ts.URL + "/api/search?q=cats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"https://a", "https://b"}, body.Tried)
	assert.Equal(t, "all instances failed: https://a, https://b", body.Error)
}

func TestAPICORS(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CORS = config.CORSConfig{Enabled: true, Origin: "https://app.example"}
	_, ts, client := newTestServer(t, cfg, &stubResolver{n: 1})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/search?q=cats", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimit = config.RateLimitConfig{RequestsPerMin: 1, Burst: 1}
	res := &stubResolver{n: 1}
	_, ts, client := newTestServer(t, cfg, res)

	resp, err := client.Get(ts.URL + "/api/search?q=cats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/api/search?q=cats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Health is not limited.
	resp, err = client.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, res.callCount())
}

func TestHealth(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"https://searx.example", "https://backup.example"}, body["instances"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMCPSession(t *testing.T) {
	s, ts, client := newTestServer(t, nil, &stubResolver{n: 2})

	resp, err := client.Post(ts.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)
	resp.Body.Close()
	sessionID := resp.Header.Get("mcp-session-id")
	require.NotEmpty(t, sessionID)

	resp, err = client.Post(ts.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("mcp-session-id", sessionID)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.mcpSessionsMu.Lock()
	assert.Empty(t, s.mcpSessions)
	s.mcpSessionsMu.Unlock()
}

func TestMCPParseError(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, -32700, body.Error.Code)
}

func TestExpireSessions(t *testing.T) {
	s, ts, client := newTestServer(t, nil, &stubResolver{})
	getDoc(t, client, ts.URL+"/")

	assert.Equal(t, 0, s.expireSessions(time.Hour))

	s.sessionsMu.RLock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		sess.lastSeen = time.Now().Add(-2 * time.Hour)
		sess.mu.Unlock()
	}
	s.sessionsMu.RUnlock()

	assert.Equal(t, 1, s.expireSessions(time.Hour))
}

func TestPagerFollowsClickedTab(t *testing.T) {
	res := &stubResolver{n: 10}
	_, ts, client := newTestServer(t, nil, res)

	// Two tabs sharing one cookie.
	getDoc(t, client, ts.URL+"/search?q=cats")
	getDoc(t, client, ts.URL+"/search?q=dogs")

	doc := postDoc(t, client, ts.URL+"/pager", url.Values{"dir": {"next"}, "q": {"cats"}, "page": {"1"}})
	assert.Equal(t, "cats p2 #0", doc.Find("article.result .title a").First().Text())

	prev := doc.Find("#pager form").First()
	q, _ := prev.Find(`input[name="q"]`).Attr("value")
	page, _ := prev.Find(`input[name="page"]`).Attr("value")
	assert.Equal(t, "cats", q)
	assert.Equal(t, "2", page)

	assert.Equal(t, []searchCall{{"cats", 1}, {"dogs", 1}, {"cats", 2}}, res.recorded())
}

func TestPagerWithoutCookie(t *testing.T) {
	res := &stubResolver{n: 10}
	_, ts, _ := newTestServer(t, nil, res)

	doc := postDoc(t, &http.Client{}, ts.URL+"/pager", url.Values{"dir": {"next"}, "q": {"cats"}, "page": {"1"}})
	assert.Equal(t, 10, doc.Find("article.result").Length())
	assert.Equal(t, "cats p2 #0", doc.Find("article.result .title a").First().Text())
}

func TestPagerRejectsBadPage(t *testing.T) {
	res := &stubResolver{n: 10}
	_, ts, client := newTestServer(t, nil, res)

	for _, p := range []string{"x", "0", "-2"} {
		resp, err := client.PostForm(ts.URL+"/pager", url.Values{"dir": {"next"}, "q": {"cats"}, "page": {p}})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, p)
	}
	assert.Equal(t, 0, res.callCount())
}

func TestPrefetchDoesNotReplacePage(t *testing.T) {
	res := &stubResolver{n: 1}
	_, ts, client := newTestServer(t, nil, res)
	getDoc(t, client, ts.URL+"/search?q=cats")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/search?q=dogs", nil)
	req.Header.Set("Sec-Purpose", "prefetch")
	resp, err := client.Do(req)
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "dogs p1 #0", doc.Find("article.result .title a").Text())

	doc = getDoc(t, client, ts.URL+"/")
	assert.Equal(t, "cats p1 #0", doc.Find("article.result .title a").Text())
}

func TestMCPRejectsUnknownSession(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("mcp-session-id", "not-a-session")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMCPKnownSessionAccepted(t *testing.T) {
	_, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.Post(ts.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)
	resp.Body.Close()
	sessionID := resp.Header.Get("mcp-session-id")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	req.Header.Set("mcp-session-id", sessionID)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpireMCPSessions(t *testing.T) {
	s, ts, client := newTestServer(t, nil, &stubResolver{})

	resp, err := client.Post(ts.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)
	resp.Body.Close()
	sessionID := resp.Header.Get("mcp-session-id")

	assert.Equal(t, 0, s.expireMCPSessions(time.Hour))

	s.mcpSessionsMu.Lock()
	s.mcpSessions[sessionID] = time.Now().Add(-2 * time.Hour)
	s.mcpSessionsMu.Unlock()

	assert.Equal(t, 1, s.expireMCPSessions(time.Hour))
	s.mcpSessionsMu.Lock()
	assert.Empty(t, s.mcpSessions)
	s.mcpSessionsMu.Unlock()
}
