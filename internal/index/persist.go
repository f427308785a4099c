package index

// persist.go implements the two on-disk index artifacts:
//
//   vectors.bin  — the numeric structure: a fixed header followed by a
//                  row-major little-endian float32 matrix
//   metadata.db  — a SQLite database holding the chunk texts (rowid =
//                  insertion order) and the index_meta key/value table
//                  (embedder model identity, dimension, chunk count)
//
// The two artifacts must always describe the same chunk set; Load verifies
// cardinality on every open. Writes go to temp files in the target
// directory and are renamed into place so a crashed build never leaves a
// half-written artifact behind an existing one.

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/dmplab/dmpgen/internal/corpus"
)

const (
	vectorsFileName  = "vectors.bin"
	metadataFileName = "metadata.db"
	lockFileName     = ".build.lock"

	// vectorsMagic identifies the vectors artifact and its layout version.
	vectorsMagic = "DMPGVEC1"
)

// metadata keys in the index_meta table.
const (
	metaEmbedderModel = "embedder_model"
	metaDimension     = "dimension"
	metaChunkCount    = "chunk_count"
	metaBuiltAt       = "built_at"
)

// writeArtifacts persists vectors and metadata atomically under dir.
func writeArtifacts(dir, embedderModel string, chunks []corpus.Chunk, vectors [][]float32, dim int) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	if err := writeVectors(dir, vectors, dim); err != nil {
		return err
	}
	return writeMetadata(dir, embedderModel, chunks, dim)
}

func writeVectors(dir string, vectors [][]float32, dim int) error {
	tmp, err := os.CreateTemp(dir, vectorsFileName+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp vectors file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // no-op after successful rename
	}()

	buf := make([]byte, 8+4+4+len(vectors)*dim*4)
	copy(buf, vectorsMagic)
	binary.LittleEndian.PutUint32(buf[8:], uint32(dim))        // #nosec G115 -- dim is a small positive embedding size
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(vectors))) // #nosec G115 -- bounded by corpus size
	off := 16
	for _, vec := range vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}

	if _, err := tmp.Write(buf); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp vectors file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, vectorsFileName)); err != nil {
		return fmt.Errorf("renaming vectors file: %w", err)
	}
	return nil
}

func writeMetadata(dir, embedderModel string, chunks []corpus.Chunk, dim int) error {
	tmpName := filepath.Join(dir, metadataFileName+".tmp")
	// Remove any leftover from an interrupted build before sqlite opens it.
	_ = os.Remove(tmpName)

	db, err := sql.Open("sqlite", tmpName)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := populateMetadata(db, embedderModel, chunks, dim); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing metadata store: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, metadataFileName)); err != nil {
		return fmt.Errorf("renaming metadata store: %w", err)
	}
	return nil
}

func populateMetadata(db *sql.DB, embedderModel string, chunks []corpus.Chunk, dim int) error {
	const schema = `
CREATE TABLE index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE chunks (
	pos       INTEGER PRIMARY KEY,
	source_id TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	text      TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating metadata schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning metadata transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		metaEmbedderModel: embedderModel,
		metaDimension:     strconv.Itoa(dim),
		metaChunkCount:    strconv.Itoa(len(chunks)),
		metaBuiltAt:       time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing index_meta %q: %w", k, err)
		}
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (pos, source_id, seq, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		if _, err := stmt.Exec(i, c.SourceID, c.SequenceIndex, c.Text); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata: %w", err)
	}
	return nil
}

// readArtifacts loads both artifacts and cross-checks them.
func readArtifacts(dir string) (vectors [][]float32, chunks []corpus.Chunk, dim int, model string, err error) {
	vecPath := filepath.Join(dir, vectorsFileName)
	metaPath := filepath.Join(dir, metadataFileName)

	vecExists := fileExists(vecPath)
	metaExists := fileExists(metaPath)
	switch {
	case !vecExists && !metaExists:
		return nil, nil, 0, "", fmt.Errorf("%w: no artifacts under %s", ErrIndexNotFound, dir)
	case !vecExists || !metaExists:
		// One artifact without the other is corruption, not a fresh location.
		return nil, nil, 0, "", fmt.Errorf("%w: found %s=%t %s=%t under %s",
			ErrIndexCorrupt, vectorsFileName, vecExists, metadataFileName, metaExists, dir)
	}

	vectors, dim, err = readVectors(vecPath)
	if err != nil {
		return nil, nil, 0, "", err
	}

	chunks, metaDim, metaCount, model, err := readMetadata(metaPath)
	if err != nil {
		return nil, nil, 0, "", err
	}

	if metaDim != dim || metaCount != len(vectors) || len(chunks) != len(vectors) {
		return nil, nil, 0, "", fmt.Errorf(
			"%w: vectors (dim=%d count=%d) vs metadata (dim=%d count=%d rows=%d)",
			ErrIndexCorrupt, dim, len(vectors), metaDim, metaCount, len(chunks))
	}

	return vectors, chunks, dim, model, nil
}

func readVectors(path string) ([][]float32, int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derives from configured index dir
	if err != nil {
		return nil, 0, fmt.Errorf("reading vectors file: %w", err)
	}
	if len(data) < 16 || string(data[:8]) != vectorsMagic {
		return nil, 0, fmt.Errorf("%w: bad vectors header", ErrIndexCorrupt)
	}

	dim := int(binary.LittleEndian.Uint32(data[8:]))
	count := int(binary.LittleEndian.Uint32(data[12:]))
	if dim <= 0 || count < 0 {
		return nil, 0, fmt.Errorf("%w: invalid vectors header (dim=%d count=%d)", ErrIndexCorrupt, dim, count)
	}
	if len(data) != 16+count*dim*4 {
		return nil, 0, fmt.Errorf("%w: vectors file size %d does not match header (dim=%d count=%d)",
			ErrIndexCorrupt, len(data), dim, count)
	}

	vectors := make([][]float32, count)
	off := 16
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = vec
	}
	return vectors, dim, nil
}

func readMetadata(path string) (chunks []corpus.Chunk, dim, count int, model string, err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("opening metadata store: %w", err)
	}
	defer func() { _ = db.Close() }()

	readMeta := func(key string) (string, error) {
		var value string
		row := db.QueryRow(`SELECT value FROM index_meta WHERE key = ?`, key)
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", fmt.Errorf("%w: missing index_meta key %q", ErrIndexCorrupt, key)
			}
			return "", fmt.Errorf("reading index_meta %q: %w", key, err)
		}
		return value, nil
	}

	model, err = readMeta(metaEmbedderModel)
	if err != nil {
		return nil, 0, 0, "", err
	}
	dimStr, err := readMeta(metaDimension)
	if err != nil {
		return nil, 0, 0, "", err
	}
	countStr, err := readMeta(metaChunkCount)
	if err != nil {
		return nil, 0, 0, "", err
	}
	if dim, err = strconv.Atoi(dimStr); err != nil {
		return nil, 0, 0, "", fmt.Errorf("%w: non-numeric dimension %q", ErrIndexCorrupt, dimStr)
	}
	if count, err = strconv.Atoi(countStr); err != nil {
		return nil, 0, 0, "", fmt.Errorf("%w: non-numeric chunk_count %q", ErrIndexCorrupt, countStr)
	}

	rows, err := db.Query(`SELECT source_id, seq, text FROM chunks ORDER BY pos`)
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("reading chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c corpus.Chunk
		if err := rows.Scan(&c.SourceID, &c.SequenceIndex, &c.Text); err != nil {
			return nil, 0, 0, "", fmt.Errorf("scanning chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, "", fmt.Errorf("iterating chunk rows: %w", err)
	}

	return chunks, dim, count, model, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
