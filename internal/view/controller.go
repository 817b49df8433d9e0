// Package view holds the search page controller and its HTML rendering.
//
// The controller is a small state machine (idle, searching, rendered,
// errored) driven by events. It knows nothing about HTTP or the DOM, so the
// server, tests and any other front end drive it the same way.
package view

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/cliffyan/searx-front/internal/searx"
)

// Status is the controller's state.
type Status int

const (
	StatusIdle Status = iota
	StatusSearching
	StatusRendered
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSearching:
		return "searching"
	case StatusRendered:
		return "rendered"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of what the page shows.
type State struct {
	Status   Status
	Info     string // status line
	Query    string
	Page     int
	Items    []searx.Item
	Instance string
	Err      string
	Tried    []string
	Prev     bool
	Next     bool
}

// Direction selects a pager control.
type Direction int

const (
	Previous Direction = iota
	Next
)

// Event drives the controller.
type Event interface {
	event()
}

// Submit is a query submission from the form.
type Submit struct {
	Query string
}

// Pager is a click on Previous or Next. Query and Page name the page the
// control was rendered on; when empty the controller's own state is used.
type Pager struct {
	Dir   Direction
	Query string
	Page  int
}

// resolved carries a resolver answer for the search in flight.
type resolved struct {
	response *searx.Response
}

// failed carries a resolver error for the search in flight.
type failed struct {
	err error
}

func (Submit) event()   {}
func (Pager) event()    {}
func (resolved) event() {}
func (failed) event()   {}

// Controller owns one page's search state. Dispatch calls are serialized, so
// at most one search is in flight per controller.
type Controller struct {
	searcher searx.Searcher
	perPage  int

	run sync.Mutex

	mu        sync.RWMutex
	state     State
	observers []func(State)
}

// NewController creates an idle controller. perPage is the result count at
// which a Next control is offered.
func NewController(searcher searx.Searcher, perPage int) *Controller {
	if perPage <= 0 {
		perPage = 10
	}
	return &Controller{
		searcher: searcher,
		perPage:  perPage,
		state:    State{Status: StatusIdle},
	}
}

// OnChange registers fn to receive every state the controller enters,
// including the intermediate searching state.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Dispatch applies ev and returns the resulting state. The boolean is false
// when the event was ignored and the state left unchanged.
//
// Submit and Pager run a full search: the controller enters searching, calls
// the resolver, then applies the resolver's answer or error.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (State, bool) {
	c.run.Lock()
	defer c.run.Unlock()

	switch ev := ev.(type) {
	case Submit:
		query := strings.TrimSpace(ev.Query)
		if query == "" {
			return c.State(), false
		}
		return c.search(ctx, query, 1), true

	case Pager:
		cur := c.State()
		if query := strings.TrimSpace(ev.Query); query != "" && !cur.shows(query, ev.Page) {
			return c.pageFrom(ctx, query, ev.Page, ev.Dir)
		}
		if cur.Status != StatusRendered {
			return cur, false
		}
		switch {
		case ev.Dir == Previous && cur.Prev:
			return c.search(ctx, cur.Query, cur.Page-1), true
		case ev.Dir == Next && cur.Next:
			return c.search(ctx, cur.Query, cur.Page+1), true
		}
		return cur, false
	}

	return c.State(), false
}

// shows reports whether st is the rendered page for query and page.
func (st State) shows(query string, page int) bool {
	return st.Status == StatusRendered && st.Query == query && st.Page == page
}

// pageFrom follows a pager control rendered for a page this controller no
// longer holds, such as one from another tab or a cookieless client. Only
// Previous can be checked here; Next is trusted to have been offered.
func (c *Controller) pageFrom(ctx context.Context, query string, page int, dir Direction) (State, bool) {
	switch {
	case page < 1:
		return c.State(), false
	case dir == Previous && page > 1:
		return c.search(ctx, query, page-1), true
	case dir == Next:
		return c.search(ctx, query, page+1), true
	}
	return c.State(), false
}

func (c *Controller) search(ctx context.Context, query string, page int) State {
	c.set(State{
		Status: StatusSearching,
		Info:   "Searching...",
		Query:  query,
		Page:   page,
	})

	resp, err := c.searcher.Search(ctx, query, page)
	if err != nil {
		return c.apply(failed{err: err})
	}
	return c.apply(resolved{response: resp})
}

// apply handles the resolver outcome for the search in flight.
func (c *Controller) apply(ev Event) State {
	cur := c.State()
	next := State{
		Query: cur.Query,
		Page:  cur.Page,
	}

	switch ev := ev.(type) {
	case resolved:
		resp := ev.response
		if resp == nil {
			resp = &searx.Response{}
		}
		next.Status = StatusRendered
		next.Instance = resp.Instance
		next.Items = resp.Items
		next.Info = "Showing results from " + resp.Instance
		if len(next.Items) > 0 {
			next.Prev = next.Page > 1
			next.Next = len(next.Items) >= c.perPage
		}

	case failed:
		msg := "unknown error"
		if ev.err != nil {
			msg = ev.err.Error()
		}
		var allFailed *searx.AllFailedError
		if errors.As(ev.err, &allFailed) {
			next.Tried = append([]string(nil), allFailed.Tried...)
		}
		next.Status = StatusErrored
		next.Err = msg
		next.Info = "Search failed: " + msg
		log.Printf("❌ Search %q page %d failed: %s", next.Query, next.Page, msg)
	}

	c.set(next)
	return next
}

func (c *Controller) set(st State) {
	c.mu.Lock()
	c.state = st
	observers := append([]func(State){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}
