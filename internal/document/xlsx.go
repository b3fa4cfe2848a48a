package document

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// convertXLSX renders every sheet as a markdown table with the first row as header.
func convertXLSX(path string, doc *Document) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open excel file: %w", err)
	}
	defer f.Close()

	sheetNames := f.GetSheetList()
	if len(sheetNames) == 0 {
		return fmt.Errorf("no sheets found in workbook")
	}
	doc.Pages = len(sheetNames)

	var b strings.Builder
	for _, sheet := range sheetNames {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		rows = trimEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", sheet)
		writeTable(&b, rows)
	}
	doc.Markdown = b.String()
	return nil
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, r := range rows {
		for _, cell := range r {
			if strings.TrimSpace(cell) != "" {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func writeTable(b *strings.Builder, rows [][]string) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	cell := func(r []string, i int) string {
		if i >= len(r) {
			return ""
		}
		v := strings.TrimSpace(r[i])
		v = strings.ReplaceAll(v, "\n", " ")
		return strings.ReplaceAll(v, "|", `\|`)
	}

	header := make([]string, width)
	for i := range header {
		header[i] = cell(rows[0], i)
		if header[i] == "" {
			header[i] = fmt.Sprintf("Column_%d", i+1)
		}
	}
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		vals := make([]string, width)
		for i := range vals {
			vals[i] = cell(r, i)
		}
		b.WriteString("| " + strings.Join(vals, " | ") + " |\n")
	}
}
