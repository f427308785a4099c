package assemble

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmplab/dmpgen/internal/generate"
	"github.com/dmplab/dmpgen/internal/prompt"
)

func sampleDoc() *Document {
	return &Document{
		Title: "Plan for Symptom Modeling",
		Info: prompt.ProjectInfo{
			"project_title": "Symptom Modeling",
			"pi_name":       "Dr. Jane Doe",
			"institution":   "University of Iowa",
		},
		Sections: []generate.GeneratedSection{
			{SectionKey: "data_types", Title: "Data Types and Formats", Text: "Clinical records and imaging."},
			{SectionKey: "access", Title: "Data Access and Sharing", Text: "Shared via dbGaP."},
		},
	}
}

func TestToMarkdown(t *testing.T) {
	md := ToMarkdown(sampleDoc())

	wantParts := []string{
		"# Plan for Symptom Modeling\n",
		"**Principal Investigator:** Dr. Jane Doe",
		"**Institution:** University of Iowa",
		"## Data Types and Formats\n\nClinical records and imaging.",
		"## Data Access and Sharing\n\nShared via dbGaP.",
	}
	for _, part := range wantParts {
		if !strings.Contains(md, part) {
			t.Errorf("markdown missing %q:\n%s", part, md)
		}
	}

	// Sections appear in the given order.
	if strings.Index(md, "Data Types") > strings.Index(md, "Data Access") {
		t.Errorf("sections out of order:\n%s", md)
	}
}

func TestToMarkdown_Pure(t *testing.T) {
	doc := sampleDoc()
	first := ToMarkdown(doc)
	for i := 0; i < 5; i++ {
		if got := ToMarkdown(doc); got != first {
			t.Fatalf("ToMarkdown not deterministic:\n%q\nvs\n%q", got, first)
		}
	}
	if doc.Sections[0].Text != "Clinical records and imaging." {
		t.Error("ToMarkdown mutated its input")
	}
}

func TestToMarkdown_DefaultsAndOmissions(t *testing.T) {
	doc := &Document{
		Sections: []generate.GeneratedSection{
			{Title: "Oversight", Text: "QA procedures apply."},
		},
	}
	md := ToMarkdown(doc)

	if !strings.HasPrefix(md, "# "+DefaultTitle+"\n") {
		t.Errorf("missing default title:\n%s", md)
	}
	if strings.Contains(md, "Principal Investigator") || strings.Contains(md, "Institution") {
		t.Errorf("absent metadata must not render placeholder lines:\n%s", md)
	}
}

func TestToMarkdown_TitleFallsBackToProjectTitle(t *testing.T) {
	doc := &Document{Info: prompt.ProjectInfo{"project_title": "Genomics Study"}}
	if md := ToMarkdown(doc); !strings.HasPrefix(md, "# Genomics Study\n") {
		t.Errorf("title fallback failed:\n%s", md)
	}
}

func TestSaveMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "dmp.md")

	if err := SaveMarkdown("# Plan\n\nbody\n", path); err != nil {
		t.Fatalf("SaveMarkdown() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "# Plan\n\nbody\n" {
		t.Errorf("file content = %q", data)
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want 1", len(entries))
	}
}

func TestSaveMarkdown_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dmp.md")

	if err := SaveMarkdown("first", path); err != nil {
		t.Fatal(err)
	}
	if err := SaveMarkdown("second", path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("file content = %q, want %q", data, "second")
	}
}

func TestSaveMarkdown_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("not a dir"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := SaveMarkdown("x", filepath.Join(blocked, "dmp.md"))
	if !errors.Is(err, ErrExport) {
		t.Fatalf("SaveMarkdown() = %v, want ErrExport", err)
	}
}

func TestSavePDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dmp.pdf")

	if err := SavePDF(sampleDoc(), path); err != nil {
		t.Fatalf("SavePDF() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF-") {
		t.Errorf("output is not a PDF (starts with %q)", data[:min(8, len(data))])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want 1", len(entries))
	}
}
