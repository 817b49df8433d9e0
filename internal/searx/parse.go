package searx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Parse validates a response body and normalizes it into a Response.
// The body must be a JSON object carrying a results collection (results or
// data) or one of the recognised result-less fields (error, query).
func Parse(body []byte) (*Response, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrInvalidShape
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode JSON failed: %w", err)
	}

	resp := &Response{
		Query:               stringField(raw["query"]),
		Error:               stringField(raw["error"]),
		NumberOfResults:     intField(raw["number_of_results"]),
		UnresponsiveEngines: unresponsiveEngines(raw["unresponsive_engines"]),
	}

	if items, ok := itemList(raw["results"]); ok {
		resp.Shape = ShapeResults
		resp.Items = items
		return resp, nil
	}
	if items, ok := itemList(raw["data"]); ok {
		resp.Shape = ShapeData
		resp.Items = items
		return resp, nil
	}
	if present(raw["error"]) {
		resp.Shape = ShapeError
		resp.Items = []Item{}
		return resp, nil
	}
	if present(raw["query"]) {
		resp.Shape = ShapeQuery
		resp.Items = []Item{}
		return resp, nil
	}

	return nil, ErrInvalidShape
}

// itemList decodes an array of result entries. Every entry yields one item,
// so entries that are not objects become placeholder items; a non-array value
// reports !ok.
func itemList(msg json.RawMessage) ([]Item, bool) {
	if !present(msg) {
		return nil, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(msg, &entries); err != nil {
		return nil, false
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			fields = nil
		}
		items = append(items, normalizeItem(fields))
	}
	return items, true
}

func normalizeItem(fields map[string]json.RawMessage) Item {
	return Item{
		Title:   firstString(fields, NoTitle, "title", "name"),
		URL:     firstString(fields, NoLink, "url", "link"),
		Snippet: firstString(fields, "", "content", "snippet", "description"),
		Engine:  firstString(fields, "", "engine"),
	}
}

// firstString picks the first key holding a non-empty string and returns it
// trimmed. A whitespace-only pick yields fallback instead of a later key.
func firstString(fields map[string]json.RawMessage, fallback string, keys ...string) string {
	for _, k := range keys {
		s := stringField(fields[k])
		if s == "" {
			continue
		}
		if s = strings.TrimSpace(s); s == "" {
			return fallback
		}
		return s
	}
	return fallback
}

func stringField(msg json.RawMessage) string {
	if !present(msg) {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	// Numbers and booleans still carry meaning as text.
	var v any
	if err := json.Unmarshal(msg, &v); err == nil {
		switch v := v.(type) {
		case float64, bool:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func intField(msg json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(msg, &f); err != nil {
		return 0
	}
	return int(f)
}

// unresponsiveEngines flattens SearXNG's [[engine, reason], ...] list.
func unresponsiveEngines(msg json.RawMessage) []string {
	if !present(msg) {
		return nil
	}
	var pairs [][]string
	if err := json.Unmarshal(msg, &pairs); err != nil {
		return nil
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if len(p) == 0 {
			continue
		}
		out = append(out, strings.Join(p, ": "))
	}
	return out
}

func present(msg json.RawMessage) bool {
	if len(msg) == 0 {
		return false
	}
	switch string(bytes.TrimSpace(msg)) {
	case "null", "false", `""`, "0":
		return false
	}
	return true
}
