// Package extract decodes uploaded documents into plain text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/pavelanni/lynki/internal/apperr"
)

// Format is a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatPPTX Format = "pptx"
	FormatHTML Format = "html"
	FormatText Format = "text"
)

// Detect maps a mime type or file type hint to a Format by substring.
func Detect(fileType string) (Format, bool) {
	t := strings.ToLower(fileType)
	switch {
	case strings.Contains(t, "pdf"):
		return FormatPDF, true
	case strings.Contains(t, "word"), strings.Contains(t, "docx"):
		return FormatDOCX, true
	case strings.Contains(t, "powerpoint"), strings.Contains(t, "pptx"), strings.Contains(t, "presentation"):
		return FormatPPTX, true
	case strings.Contains(t, "html"):
		return FormatHTML, true
	case strings.Contains(t, "text"):
		return FormatText, true
	}
	return "", false
}

// Decoder extracts text from document bytes.
type Decoder struct{}

// New returns a Decoder.
func New() *Decoder { return &Decoder{} }

// ExtractText decodes data according to fileType and returns trimmed text.
// Unknown types fail with apperr.UnsupportedFormat.
func (d *Decoder) ExtractText(data []byte, fileType string) (string, error) {
	format, ok := Detect(fileType)
	if !ok {
		return "", apperr.Newf(apperr.UnsupportedFormat, "Unsupported file type: %s", fileType)
	}

	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = extractPDF(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatPPTX:
		text, err = extractPPTX(data)
	case FormatHTML:
		text, err = extractHTML(data)
	case FormatText:
		text = extractPlain(data)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	return strings.TrimSpace(text), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return string(b), nil
}

func extractPlain(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
