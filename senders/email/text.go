package email

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	whitespace = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Elements that end a line of text.
var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true,
	"h1": true, "h2": true, "h3": true, "blockquote": true, "table": true,
}

// PlainText renders an HTML document as text: text nodes in document order,
// table cells separated by a space, and a line break after block elements.
func PlainText(doc string) string {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	body := htmlquery.FindOne(root, "//body")
	if body == nil {
		body = root
	}

	buf := new(bytes.Buffer)
	dig(body, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		buf.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
	if n.Type == html.ElementNode {
		switch {
		case blocks[n.Data]:
			buf.WriteString("\n")
		case n.Data == "td":
			buf.WriteString(" ")
		}
	}
}

func compactWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(whitespace.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
