package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ObjectStore is the subset of S3Client a snapshot needs.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

// SnapshotSource serves a corpus stored as one JSON-encoded chunk per line.
type SnapshotSource struct {
	store ObjectStore
	key   string
}

// NewSnapshotSource reads the snapshot at key.
func NewSnapshotSource(store ObjectStore, key string) *SnapshotSource {
	return &SnapshotSource{store: store, key: key}
}

// Load downloads and decodes the snapshot. Blank lines are skipped.
func (s *SnapshotSource) Load(ctx context.Context) ([]domain.Chunk, error) {
	data, err := s.store.GetObject(ctx, s.key)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// Write encodes chunks and uploads them as the snapshot.
func (s *SnapshotSource) Write(ctx context.Context, chunks []domain.Chunk) error {
	data, err := EncodeSnapshot(chunks)
	if err != nil {
		return err
	}
	return s.store.PutObject(ctx, s.key, "application/x-ndjson", data)
}

// DecodeSnapshot parses JSONL chunk data.
func DecodeSnapshot(data []byte) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c domain.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		if err := domain.ValidateChunk(&c); err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return chunks, nil
}

// EncodeSnapshot renders chunks as JSONL.
func EncodeSnapshot(chunks []domain.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range chunks {
		if err := enc.Encode(&chunks[i]); err != nil {
			return nil, fmt.Errorf("failed to encode chunk %s: %w", chunks[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
