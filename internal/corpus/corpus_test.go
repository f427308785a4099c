package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeChunkFile(t *testing.T, dir, name string, texts []string) {
	t.Helper()
	data := "["
	for i, s := range texts {
		if i > 0 {
			data += ","
		}
		data += "\"" + s + "\""
	}
	data += "]"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
}

func TestLoad_OrderAndSourceIDs(t *testing.T) {
	dir := t.TempDir()
	// Written out of lexical order on purpose; Load must sort by file name.
	writeChunkFile(t, dir, "zz_repos_chunks.json", []string{"Repositories include dbGaP."})
	writeChunkFile(t, dir, "aa_fair_chunks.json", []string{"NIH requires FAIR data.", "Consent governs sharing."})

	chunks, err := NewStore(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := []Chunk{
		{Text: "NIH requires FAIR data.", SourceID: "aa_fair", SequenceIndex: 0},
		{Text: "Consent governs sharing.", SourceID: "aa_fair", SequenceIndex: 1},
		{Text: "Repositories include dbGaP.", SourceID: "zz_repos", SequenceIndex: 0},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestLoad_IgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "policy_chunks.json", []string{"one"})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o600); err != nil {
		t.Fatal(err)
	}

	chunks, err := NewStore(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestLoad_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(dir).Load(context.Background())
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("Load() = %v, want ErrEmptyCorpus", err)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "nope")).Load(context.Background())
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("Load() = %v, want ErrEmptyCorpus", err)
	}
}

func TestLoad_MalformedFileFailsWholeLoad(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "good_chunks.json", []string{"fine"})
	if err := os.WriteFile(filepath.Join(dir, "bad_chunks.json"), []byte("{not an array"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewStore(dir).Load(context.Background())
	if err == nil {
		t.Fatal("Load() succeeded on malformed corpus, want error")
	}
	if errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("Load() = ErrEmptyCorpus, want parse error")
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "policy_chunks.json", []string{"one"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewStore(dir).Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() = %v, want context.Canceled", err)
	}
}

func TestSourceIDFromFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"nih_policy_chunks.json", "nih_policy"},
		{"plain.json", "plain"},
		{"double_chunks_chunks.json", "double_chunks"},
	}
	for _, tt := range tests {
		if got := sourceIDFromFilename(tt.name); got != tt.want {
			t.Errorf("sourceIDFromFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestChunkID(t *testing.T) {
	c := Chunk{SourceID: "nih_policy", SequenceIndex: 3}
	if got := c.ID(); got != "nih_policy#3" {
		t.Errorf("ID() = %q, want %q", got, "nih_policy#3")
	}
}
