// Package extract converts fetched document bytes into plain text with
// positional page metadata. Extraction failures are classified so the
// ingestion pipeline can skip corrupt files without retrying them.
package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/driverag/internal/errors"
)

// Page marks where a page begins within the extracted text.
type Page struct {
	Number int // 1-indexed
	Offset int // byte offset into Document.Text
}

// Document is the extraction result handed to the chunker.
type Document struct {
	Text  string
	Pages []Page
}

// Extractor converts raw document bytes into text.
type Extractor interface {
	// Extract parses data into a Document. An unreadable input returns
	// a CorruptInput error; partially readable inputs return the
	// readable portion and log the rest.
	Extract(name, mimeType string, data []byte) (*Document, error)
}

// TextExtractor handles plain text, markdown, and CSV payloads, which
// covers everything the Drive source fetches or exports.
type TextExtractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *TextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExtractor{logger: logger}
}

func (e *TextExtractor) Extract(name, mimeType string, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.CorruptInput(name, fmt.Errorf("empty document"))
	}

	switch {
	case strings.HasPrefix(mimeType, "text/csv"):
		return e.extractCSV(name, data)
	default:
		return e.extractText(name, data)
	}
}

// extractText accepts any valid UTF-8 payload. Form feeds delimit
// pages, matching how paginated sources export to plain text.
func (e *TextExtractor) extractText(name string, data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, errors.CorruptInput(name, fmt.Errorf("not valid UTF-8 text"))
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var b strings.Builder
	pages := []Page{{Number: 1, Offset: 0}}
	for i, part := range strings.Split(text, "\f") {
		if i > 0 {
			pages = append(pages, Page{Number: i + 1, Offset: b.Len()})
		}
		b.WriteString(part)
	}
	return &Document{Text: b.String(), Pages: pages}, nil
}

// extractCSV flattens rows into one line each. Malformed rows are
// skipped individually; the file is corrupt only if no row parses.
func (e *TextExtractor) extractCSV(name string, data []byte) (*Document, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var b strings.Builder
	var rows, skipped int
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			e.logger.Warn("skipping malformed csv row",
				"file", name,
				"error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(record, ", "))
		rows++
	}

	if rows == 0 {
		return nil, errors.CorruptInput(name, fmt.Errorf("no parseable rows (%d skipped)", skipped))
	}
	return &Document{Text: b.String(), Pages: []Page{{Number: 1, Offset: 0}}}, nil
}

// PageFor returns the page number containing the given byte offset.
func (d *Document) PageFor(offset int) int {
	page := 1
	for _, p := range d.Pages {
		if offset >= p.Offset {
			page = p.Number
		} else {
			break
		}
	}
	return page
}
