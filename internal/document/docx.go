package document

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// convertDOCX reads paragraphs from the main document part. Heading styles
// become markdown headings and list paragraphs become bullets.
func convertDOCX(path string, doc *Document) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", docxBody, err)
		}
		defer rc.Close()
		md, err := docxMarkdown(rc)
		if err != nil {
			return err
		}
		doc.Markdown = md
		return nil
	}
	return fmt.Errorf("docx has no %s", docxBody)
}

func docxMarkdown(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		para   strings.Builder
		style  string
		inText bool
		isList bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				style, isList = "", false
			case "pStyle":
				style = attr(t, "val")
			case "numPr":
				isList = true
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				out = append(out, decorate(text, style, isList))
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(out, "\n\n"), nil
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func decorate(text, style string, isList bool) string {
	s := strings.ToLower(style)
	switch {
	case s == "title":
		return "# " + text
	case strings.HasPrefix(s, "heading"):
		level := 1
		if n := strings.TrimPrefix(s, "heading"); len(n) == 1 && n[0] >= '1' && n[0] <= '6' {
			level = int(n[0] - '0')
		}
		return strings.Repeat("#", level) + " " + text
	case isList || strings.Contains(s, "list"):
		return "- " + text
	}
	return text
}
