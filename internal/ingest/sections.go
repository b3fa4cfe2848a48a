package ingest

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// SummaryTitle names the text that appears before the first heading.
const SummaryTitle = "Summary"

// Section is one level 1 or 2 heading of the cleaned resume and its body.
type Section struct {
	Title string
	Body  string
}

// Markdown renders the section back as markdown.
func (s Section) Markdown() string {
	if s.Body == "" {
		return "## " + s.Title
	}
	return "## " + s.Title + "\n\n" + s.Body
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// SplitSections splits md at its top-level headings of level 1 and 2.
// Deeper headings stay in the body of their section. Sections without a
// body are dropped, except when the document has nothing else.
func SplitSections(md string) []Section {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))

	type cut struct {
		title      string
		start, end int // heading line span in src
	}
	var cuts []cut
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		first, last := h.Lines().At(0), h.Lines().At(h.Lines().Len()-1)
		start := lineStart(src, first.Start)
		end := lineEnd(src, last.Stop)
		if isSetextUnderline(src, end) {
			end = lineEnd(src, end)
		}
		cuts = append(cuts, cut{title: plainText(h, src), start: start, end: end})
	}

	var out, empty []Section
	add := func(title string, body []byte) {
		s := Section{Title: title, Body: strings.TrimSpace(string(body))}
		if s.Title == "" {
			s.Title = SummaryTitle
		}
		if s.Body == "" {
			empty = append(empty, s)
			return
		}
		out = append(out, s)
	}

	if len(cuts) == 0 {
		add(SummaryTitle, src)
	} else {
		add(SummaryTitle, src[:cuts[0].start])
		for i, c := range cuts {
			next := len(src)
			if i+1 < len(cuts) {
				next = cuts[i+1].start
			}
			add(c.title, src[c.end:next])
		}
	}
	if len(out) == 0 {
		for _, s := range empty {
			if s.Title != SummaryTitle {
				out = append(out, s)
			}
		}
	}
	return out
}

func lineStart(src []byte, pos int) int {
	if i := bytes.LastIndexByte(src[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// lineEnd returns the offset just past the newline ending the line at pos.
func lineEnd(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

func isSetextUnderline(src []byte, pos int) bool {
	if pos >= len(src) {
		return false
	}
	line := bytes.TrimSpace(src[pos:lineEnd(src, pos)])
	if len(line) == 0 {
		return false
	}
	return len(bytes.Trim(line, "=")) == 0 || len(bytes.Trim(line, "-")) == 0
}

func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
