package engine

// Message represents a chat message. Images carries raw encoded image bytes
// (JPEG or PNG) for vision-capable models.
type Message struct {
	Role    string
	Content string
	Images  [][]byte
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	// Schema requests structured output when non-nil.
	Schema *Schema
	// JSON requests free-form JSON output when Schema is nil.
	JSON bool
	// MaxTokens caps generation length; 0 leaves the backend default.
	MaxTokens int
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
