package app

import (
	"strings"

	"golang.org/x/net/html"
)

// plainText reduces an HTML blurb, as pasted from publisher feeds, to
// whitespace-normalized text. Input without markup passes through normalized.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return normalizeSpace(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return normalizeSpace(s)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return normalizeSpace(buf.String())
}

func normalizeSpace(s string) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", " "), "")
	return strings.Join(strings.Fields(s), " ")
}
