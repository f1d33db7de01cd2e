// Package manifest reads and writes snapshot files.
//
// A snapshot is a JSON object with a "metadata" section followed by a "data"
// section, optionally gzip compressed under a .json.gz suffix.
package manifest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"tabsnap/internal/checksum"
	"tabsnap/internal/codec"
	"tabsnap/internal/snapid"
	"tabsnap/internal/util"
)

const (
	filePrefix = "backup_"
	plainExt   = ".json"
	gzipExt    = ".json.gz"
)

// ErrMissingSection is returned when a snapshot lacks its metadata or data.
var ErrMissingSection = errors.New("snapshot is missing a required section")

// FileName returns the file name for snapshot id.
func FileName(id string, compressed bool) string {
	if compressed {
		return filePrefix + id + gzipExt
	}
	return filePrefix + id + plainExt
}

// ParseFileName extracts the snapshot id from a file name following the
// naming convention.
func ParseFileName(name string) (id string, compressed bool, ok bool) {
	rest, found := strings.CutPrefix(name, filePrefix)
	if !found {
		return "", false, false
	}
	switch {
	case strings.HasSuffix(rest, gzipExt):
		id, compressed = strings.TrimSuffix(rest, gzipExt), true
	case strings.HasSuffix(rest, plainExt):
		id = strings.TrimSuffix(rest, plainExt)
	default:
		return "", false, false
	}
	if !snapid.Valid(id) {
		return "", false, false
	}
	return id, compressed, true
}

// DataPayload returns the canonical encoding of a data section. Map keys are
// sorted, so the bytes depend only on content.
func DataPayload(data map[string][]codec.Document) ([]byte, error) {
	if data == nil {
		data = map[string][]codec.Document{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data section: %w", err)
	}
	return payload, nil
}

// Verify recomputes the checksum of the data section and compares it with the
// one recorded in the metadata.
func (d *Document) Verify() (bool, error) {
	if d.Metadata == nil || d.Data == nil {
		return false, ErrMissingSection
	}
	payload, err := DataPayload(d.Data)
	if err != nil {
		return false, err
	}
	return checksum.Verify(payload, d.Metadata.Checksum), nil
}

// Encode serializes doc, gzip compressing it when compress is set.
func Encode(doc *Document, compress bool) ([]byte, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if !compress {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot from r. Numbers are kept as json.Number so that
// the data section re-encodes to the exact bytes it was checksummed from.
func Decode(r io.Reader, compressed bool) (*Document, error) {
	if compressed {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if doc.Metadata == nil {
		return nil, fmt.Errorf("%w: metadata", ErrMissingSection)
	}
	if doc.Data == nil {
		return nil, fmt.Errorf("%w: data", ErrMissingSection)
	}
	return &doc, nil
}

// Load reads the snapshot at path. Compression is detected from the gzip
// magic bytes, so a misnamed file still loads.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	return Decode(br, isGzip(br))
}

// ReadMetadata reads only the metadata section of the snapshot at path. The
// data section is never parsed, so a file truncated after its metadata still
// yields a result.
func ReadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if isGzip(br) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("snapshot is not a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot key: %w", err)
		}
		key, _ := tok.(string)
		if key != "metadata" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("failed to skip section %q: %w", key, err)
			}
			continue
		}

		var meta Metadata
		if err := dec.Decode(&meta); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("%w: metadata", ErrMissingSection)
}

// WriteFile atomically writes an encoded snapshot to path.
func WriteFile(path string, data []byte) error {
	return util.WriteFileAtomic(path, data, 0o644)
}

func isGzip(br *bufio.Reader) bool {
	magic, err := br.Peek(2)
	return err == nil && magic[0] == 0x1f && magic[1] == 0x8b
}
