package core

import "time"

// Chunk represents a bounded span of source text stored in the vector index.
// Chunks are immutable once created and are owned by the index; recreating
// the index destroys them.
type Chunk struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	SourceURL  string                 `json:"source_url,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreateTime int64                  `json:"create_time,omitempty"`
}

// SearchResult pairs a chunk with its relevance score for one query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Turn is one message in a session. Turns are append-only and never
// mutated after creation.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Roles used for session turns and chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContextBundle carries everything the model sees for one turn. It is
// assembled once per query and discarded after the model invocation.
type ContextBundle struct {
	Chunks  []SearchResult
	History []Turn
}

// Message is a chat message at the model invocation boundary.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
