package mcp

import (
	"github.com/cliffyan/searx-front/internal/config"
)

var (
	minPage = 1
	maxPage = MaxPage
)

// GetTools returns the tool definitions advertised by tools/list.
func GetTools(cfg *config.Config) []Tool {
	return []Tool{
		{
			Name:        cfg.GetMCPSearchToolName(),
			Description: cfg.GetMCPSearchToolDescription(),
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {
						Type:        "string",
						Description: "The search query string",
					},
					"page": {
						Type:        "integer",
						Description: "1-based results page (default: 1)",
						Default:     1,
						Minimum:     &minPage,
						Maximum:     &maxPage,
					},
				},
				Required: []string{"query"},
			},
		},
	}
}
