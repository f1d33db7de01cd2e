package manifest

import (
	"time"

	"tabsnap/internal/codec"
)

// FormatVersion is written into every snapshot.
const FormatVersion = "1.0"

// Metadata describes a snapshot. It is written once, at the head of the file.
type Metadata struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Version      string         `json:"version"`
	Tables       []string       `json:"tables"`
	TableCount   int            `json:"table_count"`
	RecordCount  int            `json:"record_count"`
	RecordCounts map[string]int `json:"record_counts,omitempty"`
	Compressed   bool           `json:"compressed"`
	Checksum     string         `json:"checksum"`

	// Filled from the filesystem, never serialized.
	Path      string `json:"-"`
	SizeBytes int64  `json:"-"`
}

// Document is a complete snapshot. Metadata is declared first so that it is
// encoded ahead of the data section.
type Document struct {
	Metadata *Metadata                   `json:"metadata"`
	Data     map[string][]codec.Document `json:"data"`
}
