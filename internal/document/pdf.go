package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

func (c *Converter) convertPDF(path string, doc *Document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return fmt.Errorf("pdf has no pages")
	}
	if totalPages > c.maxPages {
		return fmt.Errorf("pdf has too many pages (%d), max allowed is %d", totalPages, c.maxPages)
	}
	doc.Pages = totalPages

	var b strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages with extraction errors.
			c.logger.Warn("pdf page skipped", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		if cleaned := normalizeWhitespace(text); cleaned != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(cleaned)
		}
	}
	doc.Markdown = b.String()
	return nil
}
