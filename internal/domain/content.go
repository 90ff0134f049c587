package domain

import "strings"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
	ContentTypeHTML  ContentType = "html"
)

// ParseContentType maps free-form input to a known content type, defaulting to text.
func ParseContentType(value string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(value))) {
	case ContentTypeImage:
		return ContentTypeImage
	case ContentTypeVideo:
		return ContentTypeVideo
	case ContentTypeHTML:
		return ContentTypeHTML
	default:
		return ContentTypeText
	}
}

// ContentItem is the raw input supplied per request.
type ContentItem struct {
	Text  string   `json:"content"`
	Title string   `json:"title,omitempty"`
	URL   string   `json:"url,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

const (
	CostModeOptimize = "optimize"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// RouteOptions carries per-request runtime constraints.
type RouteOptions struct {
	CostMode       string   `json:"cost_mode,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	ForceReprocess bool     `json:"force_reprocess,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}
