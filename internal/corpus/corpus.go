// Package corpus reads externally produced text chunks from disk.
//
// The chunking stage (crawler + PDF extraction, outside this repository)
// writes one JSON file per source document, each file holding an ordered
// array of chunk strings. This package turns those files into Chunk values
// for the vector index. It never splits or rewrites text itself.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrEmptyCorpus indicates no chunks were found under the corpus directory.
// An index over zero vectors is meaningless, so this is fatal before any
// embedding spend.
var ErrEmptyCorpus = errors.New("empty corpus")

// Chunk is one retrievable unit of text. Immutable once created.
// Identity is (SourceID, SequenceIndex).
type Chunk struct {
	Text          string
	SourceID      string
	SequenceIndex int
}

// ID returns the canonical chunk identifier.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s#%d", c.SourceID, c.SequenceIndex)
}

// Store reads chunk files from a directory.
type Store struct {
	dir string
}

// NewStore creates a Store over the given chunk directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the corpus directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads every *.json file under the corpus directory and returns all
// chunks in deterministic order: files sorted by name, array order within
// each file. The source ID is the file stem with a trailing "_chunks"
// suffix trimmed when present.
//
// A missing directory or a directory without a single chunk returns
// ErrEmptyCorpus. A malformed chunk file fails the whole load; a corrupt
// corpus must never be silently partially indexed.
func (s *Store) Load(ctx context.Context) ([]Chunk, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: chunk directory %s does not exist", ErrEmptyCorpus, s.dir)
		}
		return nil, fmt.Errorf("reading chunk directory %s: %w", s.dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var chunks []Chunk
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from configured corpus dir
		if err != nil {
			return nil, fmt.Errorf("reading chunk file %s: %w", path, err)
		}

		var texts []string
		if err := json.Unmarshal(data, &texts); err != nil {
			return nil, fmt.Errorf("parsing chunk file %s: %w", path, err)
		}

		sourceID := sourceIDFromFilename(name)
		for i, text := range texts {
			chunks = append(chunks, Chunk{
				Text:          text,
				SourceID:      sourceID,
				SequenceIndex: i,
			})
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks under %s", ErrEmptyCorpus, s.dir)
	}

	return chunks, nil
}

// sourceIDFromFilename derives the source document identifier from a chunk
// file name, e.g. "nih_policy_chunks.json" -> "nih_policy".
func sourceIDFromFilename(name string) string {
	stem := strings.TrimSuffix(name, ".json")
	return strings.TrimSuffix(stem, "_chunks")
}
