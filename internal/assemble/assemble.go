// Package assemble composes generated sections into a single DMP document
// and exports it. Markdown composition is pure; exports write to a temp file
// in the target directory and rename into place so readers never observe a
// partial document.
package assemble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/dmplab/dmpgen/internal/generate"
	"github.com/dmplab/dmpgen/internal/prompt"
)

// ErrExport indicates a document could not be written to disk.
var ErrExport = errors.New("export failed")

// DefaultTitle is used when the document carries no explicit title.
const DefaultTitle = "Data Management and Sharing Plan"

// Document is a fully generated plan ready for export.
type Document struct {
	Title    string
	Info     prompt.ProjectInfo
	Sections []generate.GeneratedSection
}

func (d *Document) title() string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	if t := d.Info.Title(); t != "" {
		return t
	}
	return DefaultTitle
}

// ToMarkdown renders the document as markdown. Pure: equal input yields
// byte-identical output, and the receiver is never mutated.
func ToMarkdown(doc *Document) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(doc.title())
	b.WriteString("\n")

	if pi := strings.TrimSpace(doc.Info["pi_name"]); pi != "" {
		b.WriteString("\n**Principal Investigator:** ")
		b.WriteString(pi)
		b.WriteString("\n")
	}
	if inst := strings.TrimSpace(doc.Info["institution"]); inst != "" {
		b.WriteString("\n**Institution:** ")
		b.WriteString(inst)
		b.WriteString("\n")
	}

	for _, sec := range doc.Sections {
		b.WriteString("\n## ")
		b.WriteString(sec.Title)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(sec.Text))
		b.WriteString("\n")
	}

	return b.String()
}

// SaveMarkdown writes text to path atomically. An existing file at path is
// replaced only after the new content is fully written and synced.
func SaveMarkdown(text, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", ErrExport, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrExport, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing markdown: %v", ErrExport, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing markdown: %v", ErrExport, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing markdown: %v", ErrExport, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", ErrExport, err)
	}
	return nil
}

// SavePDF renders the document as a PDF at path with the same temp-then-
// rename discipline. Callers may treat failure as non-fatal; the markdown
// export is the canonical artifact.
func SavePDF(doc *Document, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", ErrExport, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, doc.title(), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	if pi := strings.TrimSpace(doc.Info["pi_name"]); pi != "" {
		pdf.MultiCell(0, 5, "Principal Investigator: "+pi, "", "L", false)
	}
	if inst := strings.TrimSpace(doc.Info["institution"]); inst != "" {
		pdf.MultiCell(0, 5, "Institution: "+inst, "", "L", false)
	}

	for _, sec := range doc.Sections {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.MultiCell(0, 7, sec.Title, "", "L", false)
		pdf.Ln(1)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 5.5, strings.TrimSpace(sec.Text), "", "L", false)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrExport, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := pdf.Output(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: rendering pdf: %v", ErrExport, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing pdf: %v", ErrExport, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", ErrExport, err)
	}
	return nil
}
