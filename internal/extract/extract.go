// Package extract converts uploaded documents into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned when the underlying parser cannot
// decode the file. Callers decide whether to fall back to a raw decode.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Text extracts plain text from an uploaded file. Plain-text types are
// decoded as UTF-8; PDFs are extracted page by page with a blank line
// between pages; any other type gets a best-effort text decode.
// Extraction is a single attempt with no retries.
func Text(r io.Reader, mimetype, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if isPDF(mimetype, filename) {
		return pdfText(data)
	}
	return string(data), nil
}

func isPDF(mimetype, filename string) bool {
	if mimetype == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// pdfText concatenates the text runs of every page in page order.
// The pdf library panics on some malformed files, so the whole parse is
// fenced and reported as ErrUnsupportedFormat.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf parse panic: %v", ErrUnsupportedFormat, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrUnsupportedFormat, i, err)
		}
		pages = append(pages, strings.TrimSpace(content))
	}

	return strings.Join(pages, "\n\n"), nil
}
