package document

import (
	"bytes"
	"net/url"
	"os"
	"strings"

	"github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

func (c *Converter) convertHTML(path string, doc *Document) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	opts := trafilatura.Options{
		OriginalURL: &url.URL{Scheme: "file", Path: path},
	}
	result, err := trafilatura.Extract(bytes.NewReader(body), opts)
	if err == nil && result != nil && strings.TrimSpace(result.ContentText) != "" {
		doc.Title = strings.TrimSpace(result.Metadata.Title)
		doc.Markdown = result.ContentText
		if doc.Title != "" && !strings.HasPrefix(strings.TrimSpace(doc.Markdown), "#") {
			doc.Markdown = "# " + doc.Title + "\n\n" + doc.Markdown
		}
		return nil
	}

	// Short single-page resumes often fall below the extractor's content
	// threshold; keep every visible text node instead.
	c.logger.Debug("main content extraction empty, using visible text", zap.String("file", doc.Name), zap.Error(err))
	doc.Title, doc.Markdown = visibleText(body)
	return nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "header": true, "footer": true,
}

var headingPrefix = map[string]string{
	"h1": "# ", "h2": "## ", "h3": "### ", "h4": "#### ", "h5": "##### ", "h6": "###### ",
}

// visibleText walks the token stream and keeps text outside script, style and head.
func visibleText(body []byte) (title, text string) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var b strings.Builder
	skip := 0
	inTitle := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(title), normalizeWhitespace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "noscript", "template":
				if tt == html.StartTagToken {
					skip++
				}
			case "title":
				inTitle = tt == html.StartTagToken
			case "li":
				b.WriteString("\n- ")
			default:
				if p, ok := headingPrefix[tag]; ok {
					b.WriteString("\n\n" + p)
				} else if blockTags[tag] {
					b.WriteString("\n")
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "noscript", "template":
				if skip > 0 {
					skip--
				}
			case "title":
				inTitle = false
			default:
				if blockTags[tag] {
					b.WriteString("\n")
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				title += t
				continue
			}
			b.WriteString(t)
			b.WriteString(" ")
		}
	}
}
