package searx

import (
	"context"
	"errors"
)

// Placeholders used when an instance omits every synonym of a field.
const (
	NoTitle = "(no title)"
	NoLink  = "#"
)

var (
	// ErrEmptyQuery is returned for queries that are blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page must be >= 1")
	// ErrInvalidShape is returned when a body parses but is not a search payload.
	ErrInvalidShape = errors.New("unexpected JSON shape")
)

// Item is one normalized search result.
type Item struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Engine  string `json:"engine,omitempty"`
}

// Shape tags which variant of the payload an instance returned.
type Shape int

const (
	ShapeResults Shape = iota + 1 // {"results": [...]}
	ShapeData                     // {"data": [...]}
	ShapeError                    // {"error": ...} without a results collection
	ShapeQuery                    // {"query": ...} without a results collection
)

func (s Shape) String() string {
	switch s {
	case ShapeResults:
		return "results"
	case ShapeData:
		return "data"
	case ShapeError:
		return "error"
	case ShapeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Response is a validated payload from exactly one instance.
type Response struct {
	Items    []Item `json:"results"`
	Shape    Shape  `json:"-"`
	Instance string `json:"instance"`
	Pageno   int    `json:"pageno"`

	// Optional echoes some instances include.
	Query               string   `json:"query,omitempty"`
	Error               string   `json:"error,omitempty"`
	NumberOfResults     int      `json:"number_of_results,omitempty"`
	UnresponsiveEngines []string `json:"unresponsive_engines,omitempty"`
}

// Searcher is what the controller and the transports depend on.
type Searcher interface {
	Search(ctx context.Context, query string, page int) (*Response, error)
}
