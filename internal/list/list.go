package list

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"tabsnap/internal/manifest"
)

type Info struct {
	ID           string         `json:"id"`
	CreatedAt    string         `json:"created_at"`
	Path         string         `json:"path"`
	SizeBytes    int64          `json:"size_bytes"`
	Compressed   bool           `json:"compressed"`
	Version      string         `json:"version"`
	TableCount   int            `json:"table_count"`
	RecordCount  int            `json:"record_count"`
	RecordCounts map[string]int `json:"record_counts,omitempty"`
	Checksum     string         `json:"checksum"`
}

type Output struct {
	Directory string `json:"directory"`
	Snapshots []Info `json:"snapshots"`
	Summary   struct {
		TotalSnapshots      int    `json:"total_snapshots"`
		CompressedSnapshots int    `json:"compressed_snapshots"`
		TotalSizeBytes      int64  `json:"total_size_bytes"`
		TotalRecords        int    `json:"total_records"`
		Newest              string `json:"newest,omitempty"`
		Oldest              string `json:"oldest,omitempty"`
	} `json:"summary"`
}

func NewInfo(m manifest.Metadata) Info {
	return Info{
		ID:           m.ID,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
		Path:         m.Path,
		SizeBytes:    m.SizeBytes,
		Compressed:   m.Compressed,
		Version:      m.Version,
		TableCount:   m.TableCount,
		RecordCount:  m.RecordCount,
		RecordCounts: m.RecordCounts,
		Checksum:     m.Checksum,
	}
}

// Build summarises snapshots, which are expected newest first.
func Build(dir string, snapshots []manifest.Metadata) Output {
	output := Output{
		Directory: dir,
		Snapshots: []Info{},
	}

	for _, m := range snapshots {
		output.Snapshots = append(output.Snapshots, NewInfo(m))
		if m.Compressed {
			output.Summary.CompressedSnapshots++
		}
		output.Summary.TotalSizeBytes += m.SizeBytes
		output.Summary.TotalRecords += m.RecordCount
	}

	output.Summary.TotalSnapshots = len(output.Snapshots)
	if n := len(output.Snapshots); n > 0 {
		output.Summary.Newest = output.Snapshots[0].ID
		output.Summary.Oldest = output.Snapshots[n-1].ID
	}
	return output
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
