package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliffyan/searx-front/internal/view"
)

const sessionCookie = "searx_session"

// Session is one browser's page state.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Controller *view.Controller

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen)
}

// session returns the caller's session, creating one and setting the cookie
// when the request carries none or an unknown id.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.sessionsMu.RLock()
		sess, ok := s.sessions[c.Value]
		s.sessionsMu.RUnlock()
		if ok {
			sess.touch()
			return sess
		}
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		Controller: view.NewController(s.resolver, s.config.Searx.PerPage),
		lastSeen:   now,
	}
	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Printf("📝 Created new session: %s", sess.ID)
	return sess
}

// expireSessions removes browser sessions idle longer than ttl.
func (s *Server) expireSessions(ttl time.Duration) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.idleFor() > ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
