// Package document turns resume files into markdown text.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	// MaxPDFPages limits the number of pages to process.
	MaxPDFPages = 100

	// MaxFileSize rejects anything larger than a plausible resume.
	MaxFileSize = 20 << 20
)

// ErrUnsupportedFormat is returned for file extensions without a converter.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrEmptyDocument is returned when a file converts to no text at all.
var ErrEmptyDocument = errors.New("document contains no text")

// Document is the converted form of one file.
type Document struct {
	Path     string
	Name     string
	Format   string
	Size     int64
	Title    string
	Pages    int
	Markdown string
}

// Converter reads a file and produces markdown.
type Converter struct {
	maxPages int
	logger   *zap.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithMaxPages overrides the PDF page limit.
func WithMaxPages(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// NewConverter creates a converter.
func NewConverter(logger *zap.Logger, opts ...Option) *Converter {
	c := &Converter{maxPages: MaxPDFPages, logger: logger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Supported lists the extensions Convert accepts.
func Supported() []string {
	return []string{".pdf", ".docx", ".xlsx", ".html", ".htm", ".md", ".markdown", ".txt"}
}

// IsSupported reports whether path has a known extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range Supported() {
		if s == ext {
			return true
		}
	}
	return false
}

// Convert reads path and converts it by extension.
func (c *Converter) Convert(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is too large (%d bytes, max %d)", path, info.Size(), MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(abs))
	doc := &Document{Path: abs, Name: filepath.Base(abs), Format: ext, Size: info.Size()}

	switch ext {
	case ".pdf":
		err = c.convertPDF(abs, doc)
	case ".docx":
		err = convertDOCX(abs, doc)
	case ".xlsx":
		err = convertXLSX(abs, doc)
	case ".html", ".htm":
		err = c.convertHTML(abs, doc)
	case ".md", ".markdown", ".txt":
		err = convertText(abs, doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", doc.Name, err)
	}

	doc.Markdown = strings.TrimSpace(doc.Markdown)
	if doc.Markdown == "" {
		return nil, fmt.Errorf("convert %s: %w", doc.Name, ErrEmptyDocument)
	}
	c.logger.Debug("document converted",
		zap.String("file", doc.Name),
		zap.String("format", ext),
		zap.Int("pages", doc.Pages),
		zap.Int("chars", len(doc.Markdown)))
	return doc, nil
}

func convertText(path string, doc *Document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc.Markdown = strings.ReplaceAll(string(data), "\r\n", "\n")
	return nil
}

// normalizeWhitespace collapses runs of blanks inside lines and drops
// consecutive empty lines.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
