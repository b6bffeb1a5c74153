package domain

import (
	"fmt"
	"time"
)

// ChunkMetadata carries the filterable attributes of a chunk.
type ChunkMetadata struct {
	AgentType string    `json:"agent_type,omitempty" yaml:"agent_type"`
	DocType   string    `json:"doc_type,omitempty" yaml:"doc_type"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at"`
}

// Chunk is one indexed unit of corpus text. Chunks are immutable once indexed
// and are replaced wholesale when the corpus is refreshed.
type Chunk struct {
	ID        string        `json:"id"`
	SourceID  string        `json:"source_id"`
	Title     string        `json:"title,omitempty"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.SourceID == "" {
		return fmt.Errorf("chunk SourceID is required")
	}
	if c.Text == "" {
		return fmt.Errorf("chunk Text is required")
	}
	return nil
}

// DisplayTitle returns the chunk title, falling back to its source id.
func (c Chunk) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.SourceID
}
