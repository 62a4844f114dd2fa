package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Item types.
const (
	TypeImage = "image"
	TypeText  = "text"
)

// Item is one ingested file with its derived metadata.
type Item struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Caption   string    `json:"caption"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemSummary is the subset of an Item needed to build the graph.
type ItemSummary struct {
	ID      int64
	Path    string
	Caption string
	Tags    []string
	Type    string
}

// ItemInput carries everything UpsertItem writes for one file.
type ItemInput struct {
	Path      string
	Type      string
	Caption   string
	Content   string // OCR text for images, text prefix for text files
	Embedding []float32
	Tags      []string
}
