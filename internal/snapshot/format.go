package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the version of the file framing.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed snapshot (1GB).
const MaxDecompressedSize = 1 << 30

// Header is the plain-text first line of a snapshot file.
type Header struct {
	Format      int               `json:"format"`
	Version     int               `json:"version"`
	RunID       string            `json:"run_id"`
	Day         int               `json:"day"`
	PersonCount int               `json:"person_count"`
	Checksum    string            `json:"checksum"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Encode serializes s into a header line followed by the gzip-compressed
// JSON payload.
func Encode(s *State) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing state: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Format:      FormatVersion,
		Version:     s.Version,
		RunID:       s.RunID,
		Day:         s.Day,
		PersonCount: len(s.Persons),
		Checksum:    checksum(compressed.Bytes()),
		CreatedAt:   s.CreatedAt,
		Metadata:    s.Metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(headerBytes) + 1 + compressed.Len())
	out.Write(headerBytes)
	out.WriteByte('\n')
	out.Write(compressed.Bytes())
	return out.Bytes(), nil
}

// Decode verifies and decompresses a snapshot produced by Encode.
func Decode(r io.Reader) (*State, error) {
	header, compressed, err := split(r)
	if err != nil {
		return nil, err
	}
	if err := header.verify(compressed); err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing state: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed state exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var s State
	if err := json.Unmarshal(decompressed, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Write stores s at path, creating parent directories.
func Write(path string, s *State) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	// write to a sibling and rename so readers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

// Read loads and verifies the snapshot at path.
func Read(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader reads only the header line of the snapshot at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	return parseHeader(line)
}

// HeaderOf parses and verifies the header of an encoded snapshot.
func HeaderOf(data []byte) (*Header, error) {
	header, compressed, err := split(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := header.verify(compressed); err != nil {
		return nil, err
	}
	return header, nil
}

// Verify checks the checksum of the snapshot at path without decompressing.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, compressed, err := split(f)
	if err != nil {
		return err
	}
	return header.verify(compressed)
}

func split(r io.Reader) (*Header, []byte, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header line: %w", err)
	}
	header, err := parseHeader(line)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, compressed, nil
}

func parseHeader(line []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if h.Format != FormatVersion {
		return nil, fmt.Errorf("%w: format %d, want %d", ErrIncompatible, h.Format, FormatVersion)
	}
	return &h, nil
}

func (h *Header) verify(compressed []byte) error {
	if actual := checksum(compressed); actual != h.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", h.Checksum, actual)
	}
	return nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
