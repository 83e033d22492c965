package driver

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CleanedHTML is page markup reduced to its semantic structure.
type CleanedHTML struct {
	HTML        string
	Title       string
	Description string
	Truncated   bool
}

var (
	droppedTags = setOf("script", "style", "noscript", "iframe", "embed", "object", "svg", "template")

	blockTags = setOf("div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre", "dialog")

	voidTags = setOf("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
		"param", "source", "track", "wbr")

	globalAttrs = setOf("id", "class", "role", "name", "title", "aria-label", "aria-describedby",
		"aria-expanded", "aria-checked", "aria-selected", "disabled")

	tagAttrs = map[string]map[string]bool{
		"a":        setOf("href", "target"),
		"img":      setOf("src", "alt"),
		"input":    setOf("type", "placeholder", "value", "checked"),
		"textarea": setOf("placeholder"),
		"select":   setOf("multiple"),
		"option":   setOf("value", "selected"),
		"button":   setOf("type"),
		"form":     setOf("action", "method"),
		"label":    setOf("for"),
		"table":    setOf("summary"),
	}
)

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// CleanHTML strips scripts, styles and other noise from markup while keeping
// the element structure and the attributes useful for targeting elements.
// Output stops after roughly maxLength characters of tags and text; zero or
// less means unlimited.
func CleanHTML(raw string, maxLength int) (*CleanedHTML, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{limit: maxLength}
	c.node(doc, 0)

	return &CleanedHTML{
		HTML:        c.out.String(),
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	out       strings.Builder
	limit     int
	used      int
	truncated bool
}

func (c *cleaner) full() bool {
	return c.limit > 0 && c.used >= c.limit
}

func (c *cleaner) node(n *html.Node, depth int) {
	if c.truncated {
		return
	}
	if c.full() {
		c.truncated = true
		return
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		c.text(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if droppedTags[tag] {
			return
		}
		c.element(n, tag, depth)
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.node(child, depth)
	}
}

func (c *cleaner) text(data string) {
	text := strings.Join(strings.Fields(data), " ")
	if text == "" {
		return
	}
	if c.limit > 0 && c.used+len(text) > c.limit {
		text = text[:c.limit-c.used] + "..."
		c.truncated = true
	}
	c.out.WriteString(text)
	c.used += len(text)
}

func (c *cleaner) element(n *html.Node, tag string, depth int) {
	block := blockTags[tag]
	if block && depth > 0 {
		c.newline(depth)
	}

	c.out.WriteString("<" + tag)
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if keepAttr(tag, key) {
			fmt.Fprintf(&c.out, ` %s="%s"`, key, html.EscapeString(attr.Val))
		}
	}
	c.out.WriteString(">")
	c.used += len(tag) + 2

	if voidTags[tag] {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.node(child, depth+1)
	}

	if block {
		c.newline(depth)
	}
	c.out.WriteString("</" + tag + ">")
	c.used += len(tag) + 3
}

func (c *cleaner) newline(depth int) {
	c.out.WriteString("\n")
	c.out.WriteString(strings.Repeat("  ", depth))
}

func keepAttr(tag, key string) bool {
	if globalAttrs[key] || strings.HasPrefix(key, "data-") {
		return true
	}
	return tagAttrs[tag][key]
}

// findFirst returns the first element for which match reports true.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func findTitle(doc *html.Node) string {
	title := findFirst(doc, func(n *html.Node) bool { return n.Data == "title" })
	if title == nil || title.FirstChild == nil || title.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(title.FirstChild.Data)
}

func findMetaDescription(doc *html.Node) string {
	meta := findFirst(doc, func(n *html.Node) bool {
		return n.Data == "meta" && attrValue(n, "name") == "description" && attrValue(n, "content") != ""
	})
	if meta == nil {
		return ""
	}
	return strings.TrimSpace(attrValue(meta, "content"))
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
