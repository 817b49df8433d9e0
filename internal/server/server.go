package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/cliffyan/searx-front/internal/config"
	"github.com/cliffyan/searx-front/internal/mcp"
	"github.com/cliffyan/searx-front/internal/searx"
	"github.com/cliffyan/searx-front/internal/view"
)

// Resolver is what the server needs from the instance resolver.
type Resolver interface {
	searx.Searcher
	Instances() []string
}

// Server serves the search page, the JSON API and the MCP endpoint.
type Server struct {
	config     *config.Config
	resolver   Resolver
	mcpHandler *mcp.Handler
	limiter    *clientLimiter

	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	mcpSessions   map[string]time.Time // id -> last seen
	mcpSessionsMu sync.Mutex
}

// New creates a server for cfg backed by resolver.
func New(cfg *config.Config, resolver Resolver) *Server {
	return &Server{
		config:      cfg,
		resolver:    resolver,
		mcpHandler:  mcp.NewHandler(cfg, resolver),
		limiter:     newClientLimiter(cfg.Server.RateLimit.RequestsPerMin, cfg.Server.RateLimit.Burst),
		sessions:    make(map[string]*Session),
		mcpSessions: make(map[string]time.Time),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Search page
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /search", s.limiter.limit(s.handleSearch))
	mux.HandleFunc("POST /pager", s.limiter.limit(s.handlePager))

	// JSON API
	var api http.Handler = s.limiter.limit(s.handleAPISearch)
	if s.config.IsEnableCORS() {
		c := cors.New(cors.Options{
			AllowedOrigins: []string{s.config.GetCORSOrigin()},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		})
		api = c.Handler(api)
	}
	mux.Handle("/api/search", api)

	// MCP
	mux.HandleFunc("/mcp", s.limiter.limit(s.handleMCP))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.janitor(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Starting HTTP server on %s", srv.Addr)
		log.Printf("🔍 Search page: http://%s/", srv.Addr)
		log.Printf("📡 JSON API: http://%s/api/search?q=...", srv.Addr)
		log.Printf("📡 MCP endpoint: http://%s/mcp", srv.Addr)
		log.Printf("❤️ Health check: http://%s/health", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// janitor expires idle browser and MCP sessions and rate-limit entries.
func (s *Server) janitor(ctx context.Context) {
	ttl := s.config.Server.SessionTTL
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.expireSessions(ttl); n > 0 {
				log.Printf("🗑️ Expired %d idle session(s)", n)
			}
			if n := s.expireMCPSessions(ttl); n > 0 {
				log.Printf("🗑️ Expired %d idle MCP session(s)", n)
			}
			if s.limiter != nil {
				s.limiter.sweep(3 * time.Minute)
			}
		}
	}
}

// handleIndex renders the session's current state.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.render(w, sess.Controller.State())
}

// handleSearch is the form submission. Blank queries leave the page as is.
// Prefetches get a throwaway controller so they never replace the session's
// page.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ev := view.Submit{Query: r.URL.Query().Get("q")}
	if isPrefetch(r) {
		st, _ := view.NewController(s.resolver, s.config.Searx.PerPage).Dispatch(r.Context(), ev)
		s.render(w, st)
		return
	}

	sess := s.session(w, r)
	st, _ := sess.Controller.Dispatch(r.Context(), ev)
	s.render(w, st)
}

func isPrefetch(r *http.Request) bool {
	for _, h := range []string{"Sec-Purpose", "Purpose", "X-Moz"} {
		if strings.Contains(strings.ToLower(r.Header.Get(h)), "prefetch") {
			return true
		}
	}
	return false
}

// handlePager handles the Previous/Next buttons. The form names the query
// and page it was rendered for, so paging follows the clicked page even when
// the session has since searched something else.
func (s *Server) handlePager(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	var dir view.Direction
	switch r.FormValue("dir") {
	case "prev":
		dir = view.Previous
	case "next":
		dir = view.Next
	default:
		http.Error(w, "dir must be prev or next", http.StatusBadRequest)
		return
	}

	ev := view.Pager{Dir: dir, Query: r.FormValue("q")}
	if p := r.FormValue("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			http.Error(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}
		ev.Page = n
	}

	st, _ := sess.Controller.Dispatch(r.Context(), ev)
	s.render(w, st)
}

func (s *Server) render(w http.ResponseWriter, st view.State) {
	var buf bytes.Buffer
	if err := view.Render(&buf, st); err != nil {
		log.Printf("❌ %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// APIResponse is the JSON body of /api/search.
type APIResponse struct {
	Query    string       `json:"query"`
	Page     int          `json:"page"`
	Instance string       `json:"instance"`
	Results  []searx.Item `json:"results"`
	Prev     bool         `json:"prev"`
	Next     bool         `json:"next"`
}

// APIError is the JSON error body of /api/search.
type APIError struct {
	Error string   `json:"error"`
	Tried []string `json:"tried,omitempty"`
}

func (s *Server) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeJSON(w, http.StatusBadRequest, APIError{Error: searx.ErrEmptyQuery.Error()})
		return
	}
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			s.writeJSON(w, http.StatusBadRequest, APIError{Error: searx.ErrInvalidPage.Error()})
			return
		}
		page = n
	}

	resp, err := s.resolver.Search(r.Context(), query, page)
	if err != nil {
		body := APIError{Error: err.Error()}
		var failed *searx.AllFailedError
		if errors.As(err, &failed) {
			body.Tried = failed.Tried
		}
		s.writeJSON(w, http.StatusBadGateway, body)
		return
	}

	out := APIResponse{
		Query:    query,
		Page:     page,
		Instance: resp.Instance,
		Results:  resp.Items,
	}
	if len(resp.Items) > 0 {
		out.Prev = page > 1
		out.Next = len(resp.Items) >= s.config.Searx.PerPage
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleMCP routes MCP requests by method.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, mcp.CodeParseError, "Parse error: "+err.Error())
		return
	}

	sessionID := r.Header.Get("mcp-session-id")
	switch {
	case req.Method == "initialize" && sessionID == "":
		sessionID = uuid.New().String()
		s.mcpSessionsMu.Lock()
		s.mcpSessions[sessionID] = time.Now()
		s.mcpSessionsMu.Unlock()
		w.Header().Set("mcp-session-id", sessionID)
		log.Printf("📝 Created new MCP session: %s", sessionID)
	case sessionID != "":
		if !s.touchMCPSession(sessionID) {
			http.Error(w, "Invalid session ID", http.StatusBadRequest)
			return
		}
	}

	resp := s.mcpHandler.HandleRequest(r.Context(), req)

	if req.Method == "notifications/initialized" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// touchMCPSession refreshes a known MCP session and reports whether it exists.
func (s *Server) touchMCPSession(id string) bool {
	s.mcpSessionsMu.Lock()
	defer s.mcpSessionsMu.Unlock()
	if _, ok := s.mcpSessions[id]; !ok {
		return false
	}
	s.mcpSessions[id] = time.Now()
	return true
}

// expireMCPSessions removes MCP sessions idle longer than ttl.
func (s *Server) expireMCPSessions(ttl time.Duration) int {
	s.mcpSessionsMu.Lock()
	defer s.mcpSessionsMu.Unlock()

	removed := 0
	for id, lastSeen := range s.mcpSessions {
		if time.Since(lastSeen) > ttl {
			delete(s.mcpSessions, id)
			removed++
		}
	}
	return removed
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	s.mcpSessionsMu.Lock()
	delete(s.mcpSessions, sessionID)
	s.mcpSessionsMu.Unlock()

	log.Printf("🗑️ Deleted MCP session: %s", sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.RLock()
	sessions := len(s.sessions)
	s.sessionsMu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   s.config.GetMCPServerName(),
		"version":   s.config.GetMCPServerVersion(),
		"instances": s.resolver.Instances(),
		"sessions":  sessions,
	})
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.writeJSON(w, http.StatusOK, mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &mcp.RPCError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}
