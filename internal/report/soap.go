// Package report renders finished cases: a SOAP note PDF and terminal
// summaries.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/encoding/charmap"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/ports"
)

const (
	DefaultSOAPFile = "soap_note.pdf"

	soapFontFamily = "soap"
)

var (
	ErrEmptyNote = errors.New("case has no SOAP note")
	// ErrUnsupportedText reports note text the built-in PDF font cannot
	// encode. Setting PDFOptions.FontFile lifts the restriction.
	ErrUnsupportedText = errors.New("SOAP note has text outside Windows-1252; set intake.soap_font to a UTF-8 TrueType font")
)

// PDFOptions tunes SOAP rendering.
type PDFOptions struct {
	// FontFile is a TrueType font with UTF-8 coverage for the intake
	// languages. Empty selects core Helvetica, limited to Windows-1252.
	FontFile string
}

type soapSection struct {
	label string
	text  string
}

func soapSections(note domain.SOAPNote) []soapSection {
	return []soapSection{
		{label: "Subjective", text: note.Subjective},
		{label: "Objective", text: note.Objective},
		{label: "Assessment", text: note.Assessment},
		{label: "Plan", text: note.Plan},
	}
}

// checkWindows1252 names the first section the core font cannot render.
func checkWindows1252(note domain.SOAPNote) error {
	enc := charmap.Windows1252.NewEncoder()
	for _, section := range soapSections(note) {
		if _, err := enc.String(section.text); err != nil {
			return fmt.Errorf("%w (%s)", ErrUnsupportedText, section.label)
		}
	}
	return nil
}

// WriteSOAPPDF renders the note as a one-page A4 document.
func WriteSOAPPDF(w io.Writer, note domain.SOAPNote, opts PDFOptions) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("SOAP Note", true)
	pdf.SetMargins(15, 15, 15)

	family, tr := "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
	if opts.FontFile != "" {
		pdf.AddUTF8Font(soapFontFamily, "", opts.FontFile)
		pdf.AddUTF8Font(soapFontFamily, "B", opts.FontFile)
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("load SOAP font %q: %w", opts.FontFile, err)
		}
		family, tr = soapFontFamily, func(s string) string { return s }
	} else if err := checkWindows1252(note); err != nil {
		return err
	}

	pdf.AddPage()
	pdf.SetFont(family, "B", 18)
	pdf.Cell(0, 10, "SOAP Note")
	pdf.Ln(14)

	for _, section := range soapSections(note) {
		pdf.SetFont(family, "B", 12)
		pdf.Cell(0, 7, section.label)
		pdf.Ln(8)

		body := strings.TrimSpace(section.text)
		if body == "" {
			body = "Not recorded."
		}
		pdf.SetFont(family, "", 11)
		pdf.MultiCell(0, 6, tr(body), "", "L", false)
		pdf.Ln(4)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render SOAP note: %w", err)
	}
	return nil
}

// Exporter writes SOAP notes to disk. Failures are logged and narrated; they
// never touch intake state.
type Exporter struct {
	narrator ports.Narrator
	opts     PDFOptions
	logger   *slog.Logger
}

func NewExporter(narrator ports.Narrator, logger *slog.Logger, opts PDFOptions) *Exporter {
	return &Exporter{narrator: narrator, opts: opts, logger: logging.Component(logger, "soap_export")}
}

// Export writes the note of result to path, replacing any existing file.
func (e *Exporter) Export(path string, result *domain.CaseResult) error {
	err := e.export(path, result)
	if err != nil {
		e.logger.Warn("SOAP export failed", slog.String("path", path), slog.Any("error", err))
		if e.narrator != nil {
			e.narrator.Append(fmt.Sprintf("Agent D: SOAP export failed (%s).", err.Error()))
		}
		return err
	}
	e.logger.Info("SOAP note exported", slog.String("path", path))
	return nil
}

func (e *Exporter) export(path string, result *domain.CaseResult) error {
	if result == nil || result.SOAPNote.Empty() {
		return ErrEmptyNote
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultSOAPFile
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".soap-*.pdf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteSOAPPDF(tmp, result.SOAPNote, e.opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
