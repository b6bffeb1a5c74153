// Package corpus loads documentation chunks from a local directory and
// watches it for changes.
package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
)

// Extensions lists the file types DirSource reads.
var Extensions = []string{".md", ".yaml", ".yml"}

// Document is the YAML document format. Sections become one chunk each;
// Body is split with the chunker.
type Document struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	AgentType string    `yaml:"agent_type"`
	DocType   string    `yaml:"doc_type"`
	Body      string    `yaml:"body"`
	Sections  []Section `yaml:"sections"`
}

// Section is a pre-chunked part of a Document.
type Section struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

// DirSource reads a corpus from a directory tree. A file's first directory
// below the root names its agent type unless the file sets one itself.
type DirSource struct {
	root     string
	chunking ChunkConfig
	logger   *zap.Logger
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string, chunking ChunkConfig, logger *zap.Logger) *DirSource {
	return &DirSource{
		root:     dir,
		chunking: chunking,
		logger:   logging.OrNop(logger).Named("corpus"),
	}
}

// Load walks the directory and returns every chunk sorted by id.
func (s *DirSource) Load(ctx context.Context) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsCorpusFile(path) {
			return nil
		}

		fileChunks, err := s.loadFile(path, d)
		if err != nil {
			return err
		}
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory %s: %w", s.root, err)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	for i := 1; i < len(chunks); i++ {
		if chunks[i].ID == chunks[i-1].ID {
			return nil, fmt.Errorf("duplicate chunk id %q", chunks[i].ID)
		}
	}

	s.logger.Debug("corpus loaded", zap.String("dir", s.root), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

func (s *DirSource) loadFile(path string, d fs.DirEntry) ([]domain.Chunk, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	sourceID := strings.TrimSuffix(rel, filepath.Ext(rel))

	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	meta := domain.ChunkMetadata{
		AgentType: agentFromPath(rel),
		CreatedAt: info.ModTime().UTC(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	if filepath.Ext(path) == ".md" {
		meta.DocType = "markdown"
		chunks = s.markdownChunks(sourceID, string(data), meta)
	} else {
		chunks, err = s.yamlChunks(sourceID, data, meta)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
	}

	for i := range chunks {
		if err := domain.ValidateChunk(&chunks[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
	}
	return chunks, nil
}

func (s *DirSource) yamlChunks(sourceID string, data []byte, meta domain.ChunkMetadata) ([]domain.Chunk, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if doc.ID != "" {
		sourceID = doc.ID
	}
	if doc.AgentType != "" {
		meta.AgentType = doc.AgentType
	}
	meta.DocType = doc.DocType

	var chunks []domain.Chunk
	for i, sec := range doc.Sections {
		id := sec.ID
		if id == "" {
			id = fmt.Sprintf("%s#s%d", sourceID, i)
		}
		title := sec.Title
		if title == "" {
			title = doc.Title
		} else if doc.Title != "" {
			title = doc.Title + ": " + sec.Title
		}
		chunks = append(chunks, domain.Chunk{
			ID:       id,
			SourceID: sourceID,
			Title:    title,
			Text:     strings.TrimSpace(sec.Text),
			Metadata: meta,
		})
	}
	for i, part := range Split(doc.Body, s.chunking) {
		chunks = append(chunks, domain.Chunk{
			ID:       fmt.Sprintf("%s#%d", sourceID, i),
			SourceID: sourceID,
			Title:    doc.Title,
			Text:     part,
			Metadata: meta,
		})
	}
	return chunks, nil
}

func (s *DirSource) markdownChunks(sourceID, text string, meta domain.ChunkMetadata) []domain.Chunk {
	title, body := splitTitle(text)
	if title == "" {
		title = filepath.Base(sourceID)
	}

	var chunks []domain.Chunk
	for i, part := range Split(body, s.chunking) {
		chunks = append(chunks, domain.Chunk{
			ID:       fmt.Sprintf("%s#%d", sourceID, i),
			SourceID: sourceID,
			Title:    title,
			Text:     part,
			Metadata: meta,
		})
	}
	return chunks
}

// splitTitle takes the first level-one heading as the title and returns the
// remaining text as the body.
func splitTitle(text string) (string, string) {
	var title string
	var body strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if title == "" && strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	return title, body.String()
}

func agentFromPath(rel string) string {
	dir, _, ok := strings.Cut(rel, "/")
	if !ok || dir == "shared" {
		return ""
	}
	return dir
}

// IsCorpusFile reports whether path has one of the corpus extensions.
func IsCorpusFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
