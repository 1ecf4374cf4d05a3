package snapshot

import (
	"strings"

	"golang.org/x/net/html"
)

var dropTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"link": true, "meta": true, "head": true, "title": true, "iframe": true,
}

var keepAttrs = map[string]bool{
	"id": true, "name": true, "class": true, "type": true, "role": true,
	"aria-label": true, "placeholder": true, "href": true, "value": true,
	"data-testid": true, "disabled": true, "checked": true,
}

// PruneHTML strips scripts, styles, comments and noisy attributes from a
// fragment and truncates the result to maxChars characters. Unparseable
// input is truncated as is.
func PruneHTML(raw string, maxChars int) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Truncate(raw, maxChars)
	}
	body := findBody(doc)
	if body == nil {
		return Truncate(raw, maxChars)
	}
	clean(body)

	var sb strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return Truncate(strings.TrimSpace(sb.String()), maxChars)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func clean(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && dropTags[c.Data]:
			n.RemoveChild(c)
		case c.Type == html.ElementNode:
			c.Attr = filterAttrs(c.Attr)
			clean(c)
		}
		c = next
	}
}

func filterAttrs(attrs []html.Attribute) []html.Attribute {
	var kept []html.Attribute
	for _, a := range attrs {
		if keepAttrs[a.Key] {
			kept = append(kept, a)
		}
	}
	return kept
}
