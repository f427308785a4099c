package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dmplab/dmpgen/internal/corpus"
	"github.com/dmplab/dmpgen/internal/prompt"
	"github.com/dmplab/dmpgen/internal/retriever"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockRetriever struct {
	chunks      []retriever.ScoredChunk
	retrieveErr error
	lastQuery   string
	lastK       int
	callCount   int
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, k int) ([]retriever.ScoredChunk, error) {
	m.callCount++
	m.lastQuery = query
	m.lastK = k
	if m.retrieveErr != nil {
		return nil, m.retrieveErr
	}
	return m.chunks, nil
}

type mockModel struct {
	output     string
	genErr     error
	lastPrompt string
	callCount  int
}

func (m *mockModel) Generate(ctx context.Context, promptText string) (string, error) {
	m.callCount++
	m.lastPrompt = promptText
	if m.genErr != nil {
		return "", m.genErr
	}
	return m.output, nil
}

// ============================================================================
// Helpers
// ============================================================================

func testRegistry(t *testing.T) *prompt.Registry {
	t.Helper()
	reg, err := prompt.NewRegistry([]prompt.SectionSpec{{
		Key:      "access",
		Title:    "Data Access and Sharing",
		Template: prompt.Template("Section: {section_name}\nInfo:\n{project_info}\nContext:\n{context}"),
		BuildQuery: func(info prompt.ProjectInfo) string {
			return info.Title() + ": sharing policy"
		},
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	return reg
}

func testInfo() prompt.ProjectInfo {
	return prompt.ProjectInfo{"project_title": "Symptom Modeling"}
}

// ============================================================================
// Tests
// ============================================================================

func TestGenerateSection_HappyPath(t *testing.T) {
	ret := &mockRetriever{chunks: []retriever.ScoredChunk{
		{Chunk: corpus.Chunk{Text: "NIH requires timely sharing.", SourceID: "p", SequenceIndex: 0}, Similarity: 0.9},
		{Chunk: corpus.Chunk{Text: "dbGaP hosts controlled-access data.", SourceID: "p", SequenceIndex: 1}, Similarity: 0.8},
	}}
	model := &mockModel{output: "  Data will be deposited in dbGaP.  "}
	g := New(testRegistry(t), ret, model, nil, WithTopK(2))

	sec, err := g.GenerateSection(context.Background(), "access", testInfo())
	if err != nil {
		t.Fatalf("GenerateSection() error: %v", err)
	}

	if sec.Text != "Data will be deposited in dbGaP." {
		t.Errorf("Text = %q, want trimmed model output", sec.Text)
	}
	if sec.Title != "Data Access and Sharing" {
		t.Errorf("Title = %q", sec.Title)
	}
	if len(sec.ContextChunks) != 2 {
		t.Errorf("ContextChunks = %d, want 2", len(sec.ContextChunks))
	}
	if sec.GeneratedAt.IsZero() {
		t.Error("GeneratedAt is zero")
	}

	if ret.lastQuery != "Symptom Modeling: sharing policy" {
		t.Errorf("retrieval query = %q", ret.lastQuery)
	}
	if ret.lastK != 2 {
		t.Errorf("retrieval k = %d, want 2", ret.lastK)
	}

	// Prompt carries chunks in retrieval order, joined by a blank line.
	wantCtx := "NIH requires timely sharing.\n\ndbGaP hosts controlled-access data."
	if !strings.Contains(model.lastPrompt, wantCtx) {
		t.Errorf("prompt missing joined context:\n%s", model.lastPrompt)
	}
	if !strings.Contains(model.lastPrompt, "project_title: Symptom Modeling") {
		t.Errorf("prompt missing project info:\n%s", model.lastPrompt)
	}
	if !strings.Contains(model.lastPrompt, "Section: Data Access and Sharing") {
		t.Errorf("prompt missing section name:\n%s", model.lastPrompt)
	}
	if model.callCount != 1 {
		t.Errorf("model calls = %d, want exactly 1", model.callCount)
	}
}

func TestGenerateSection_UnknownKeyFatal(t *testing.T) {
	g := New(testRegistry(t), &mockRetriever{}, &mockModel{output: "x"}, nil)

	_, err := g.GenerateSection(context.Background(), "budget", testInfo())
	if !errors.Is(err, prompt.ErrPromptNotFound) {
		t.Fatalf("GenerateSection(budget) = %v, want ErrPromptNotFound", err)
	}
}

func TestGenerateSection_EmptyRetrievalIsNotAnError(t *testing.T) {
	ret := &mockRetriever{chunks: nil}
	model := &mockModel{output: "Generated from metadata alone."}
	g := New(testRegistry(t), ret, model, nil)

	sec, err := g.GenerateSection(context.Background(), "access", testInfo())
	if err != nil {
		t.Fatalf("GenerateSection() error: %v", err)
	}
	if len(sec.ContextChunks) != 0 {
		t.Errorf("ContextChunks = %d, want 0", len(sec.ContextChunks))
	}
	if sec.Text != "Generated from metadata alone." {
		t.Errorf("Text = %q", sec.Text)
	}
	if !strings.Contains(model.lastPrompt, "Context:\n") {
		t.Errorf("prompt should render an empty context slot:\n%s", model.lastPrompt)
	}
}

func TestGenerateSection_RetrievalErrorPropagates(t *testing.T) {
	sentinel := errors.New("index unavailable")
	g := New(testRegistry(t), &mockRetriever{retrieveErr: sentinel}, &mockModel{}, nil)

	_, err := g.GenerateSection(context.Background(), "access", testInfo())
	if !errors.Is(err, sentinel) {
		t.Fatalf("GenerateSection() = %v, want wrapped retrieval error", err)
	}
}

func TestGenerateSection_ProviderErrorWrapped(t *testing.T) {
	model := &mockModel{genErr: errors.New("rate limited")}
	g := New(testRegistry(t), &mockRetriever{}, model, nil)

	_, err := g.GenerateSection(context.Background(), "access", testInfo())
	if !errors.Is(err, ErrGenerationProvider) {
		t.Fatalf("GenerateSection() = %v, want ErrGenerationProvider", err)
	}
	if !strings.Contains(err.Error(), "access") {
		t.Errorf("error %q does not name the failed section", err)
	}
	if model.callCount != 1 {
		t.Errorf("model calls = %d, want 1 (no retries)", model.callCount)
	}
}

func TestGenerateSection_EmptyOutputPlaceholder(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"empty string", ""},
		{"whitespace only", "  \n\t "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(testRegistry(t), &mockRetriever{}, &mockModel{output: tt.output}, nil)

			sec, err := g.GenerateSection(context.Background(), "access", testInfo())
			if err != nil {
				t.Fatalf("GenerateSection() error: %v", err)
			}
			if sec.Text != "[No content generated for access]" {
				t.Errorf("Text = %q, want placeholder", sec.Text)
			}
		})
	}
}

func TestWithTopK_IgnoresNonPositive(t *testing.T) {
	ret := &mockRetriever{}
	g := New(testRegistry(t), ret, &mockModel{output: "x"}, nil, WithTopK(0))

	if _, err := g.GenerateSection(context.Background(), "access", testInfo()); err != nil {
		t.Fatalf("GenerateSection() error: %v", err)
	}
	if ret.lastK != 6 {
		t.Errorf("k = %d, want default 6", ret.lastK)
	}
}
