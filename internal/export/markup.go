package export

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkerAttr tags an element as the placeholder for a highlight id.
const MarkerAttr = "data-highlight-id"

func parseFragment(content string) ([]*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), body)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return nodes, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// MarkerIDs lists the distinct highlight ids referenced by markers in
// content, in document order.
func MarkerIDs(content string) ([]string, error) {
	nodes, err := parseFragment(content)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	seen := make(map[string]bool)
	for _, root := range nodes {
		walk(root, func(n *html.Node) {
			if n.Type != html.ElementNode {
				return
			}
			if id, ok := attr(n, MarkerAttr); ok && id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		})
	}
	return ids, nil
}

// ResolveMarkers replaces the children of every marker element with the
// literal value text and drops its inline style. Elements whose id attribute
// names a value are treated as markers too. Unknown markers are left as is.
func ResolveMarkers(content string, values []Value) (string, error) {
	if len(values) == 0 {
		return content, nil
	}
	byID := make(map[string]string, len(values))
	for _, v := range values {
		byID[v.ID] = v.Text
	}

	nodes, err := parseFragment(content)
	if err != nil {
		return "", err
	}
	for _, root := range nodes {
		walk(root, func(n *html.Node) {
			if n.Type != html.ElementNode {
				return
			}
			id, ok := attr(n, MarkerAttr)
			if !ok {
				id, ok = attr(n, "id")
			}
			text, known := byID[id]
			if !ok || !known {
				return
			}
			for n.FirstChild != nil {
				n.RemoveChild(n.FirstChild)
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if a.Key != "style" {
					kept = append(kept, a)
				}
			}
			n.Attr = kept
		})
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render markup: %w", err)
		}
	}
	return buf.String(), nil
}
