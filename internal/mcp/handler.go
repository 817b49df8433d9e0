package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/cliffyan/searx-front/internal/config"
	"github.com/cliffyan/searx-front/internal/searx"
)

const (
	MCPVersion = "2024-11-05"

	// MaxPage bounds the page argument of the search tool.
	MaxPage = 1000
)

// Handler answers MCP JSON-RPC requests.
type Handler struct {
	config   *config.Config
	searcher searx.Searcher
}

// NewHandler creates a handler that serves the search tool from searcher.
func NewHandler(cfg *config.Config, searcher searx.Searcher) *Handler {
	return &Handler{
		config:   cfg,
		searcher: searcher,
	}
}

// HandleRequest dispatches one JSON-RPC request.
func (h *Handler) HandleRequest(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	log.Printf("📥 MCP Request: method=%s, id=%v", req.Method, req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result = h.handleInitialize()
	case "notifications/initialized":
		// Notifications get no response body.
		return JSONRPCResponse{}
	case "tools/list":
		result = h.handleToolsList()
	case "tools/call":
		result, err = h.handleToolsCall(ctx, req.Params)
	case "resources/list":
		result = ListResourcesResult{Resources: []any{}}
	case "prompts/list":
		result = ListPromptsResult{Prompts: []any{}}
	default:
		err = &RPCError{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}

	if err != nil {
		log.Printf("❌ MCP Error: %v", err)
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   rpcErr,
		}
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

func (h *Handler) handleInitialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: Capability{
			Tools: ToolCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    h.config.GetMCPServerName(),
			Version: h.config.GetMCPServerVersion(),
		},
	}
}

func (h *Handler) handleToolsList() ListToolsResult {
	return ListToolsResult{
		Tools: GetTools(h.config),
	}
}

func (h *Handler) handleToolsCall(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	log.Printf("🔧 Tool call: name=%s, args=%v", callParams.Name, callParams.Arguments)

	switch callParams.Name {
	case h.config.GetMCPSearchToolName():
		return h.handleSearch(ctx, callParams.Arguments)
	default:
		return errorResult(fmt.Sprintf("Unknown tool: %s", callParams.Name)), nil
	}
}

// searchResult is the JSON text returned by the search tool.
type searchResult struct {
	Query    string       `json:"query"`
	Page     int          `json:"page"`
	Instance string       `json:"instance"`
	Results  []searx.Item `json:"results"`
}

// handleSearch runs the search tool.
func (h *Handler) handleSearch(ctx context.Context, args map[string]any) (*CallToolResult, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return errorResult("query is required"), nil
	}

	page := 1
	if raw, ok := args["page"]; ok && raw != nil {
		p, ok := raw.(float64)
		if !ok || p != math.Trunc(p) || p < 1 || p > MaxPage {
			return errorResult(fmt.Sprintf("page must be a whole number between 1 and %d", MaxPage)), nil
		}
		page = int(p)
	}

	resp, err := h.searcher.Search(ctx, query, page)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %v", err)), nil
	}

	resultJSON, err := json.MarshalIndent(searchResult{
		Query:    query,
		Page:     page,
		Instance: resp.Instance,
		Results:  resp.Items,
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to format results: %v", err)), nil
	}

	return &CallToolResult{
		Content: []ContentItem{{Type: "text", Text: string(resultJSON)}},
	}, nil
}

func errorResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: true,
	}
}
