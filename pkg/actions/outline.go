package actions

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// reduced is a page distilled to its readable structure.
type reduced struct {
	Title       string
	Description string
	HTML        string
	Truncated   bool
}

// reduce parses raw page HTML and rebuilds it without scripts, styles and
// presentation noise, keeping the attributes that matter for selector
// targeting. Output is capped near maxLength characters.
func reduce(raw string, maxLength int) (*reduced, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	r := &reducer{limit: maxLength}
	r.walk(doc, 0)

	return &reduced{
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		HTML:        strings.TrimSpace(r.out.String()),
		Truncated:   r.truncated,
	}, nil
}

// reducer rebuilds a parsed document into indented, attribute-pruned
// markup until the length limit is reached.
type reducer struct {
	out       strings.Builder
	length    int
	limit     int
	truncated bool
}

func (r *reducer) write(s string) {
	r.out.WriteString(s)
	r.length += len(s)
}

func (r *reducer) walk(n *html.Node, depth int) {
	if r.truncated {
		return
	}
	if r.length >= r.limit {
		r.truncated = true
		return
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		r.text(n)
	case html.ElementNode:
		r.element(n, depth)
	default:
		r.children(n, depth)
	}
}

func (r *reducer) text(n *html.Node) {
	text := strings.TrimSpace(n.Data)
	if text == "" {
		return
	}

	if remaining := r.limit - r.length; len(text) > remaining {
		r.write(text[:remaining] + "...")
		r.truncated = true
		return
	}
	r.write(text)
}

func (r *reducer) element(n *html.Node, depth int) {
	tag := strings.ToLower(n.Data)
	if skippedTags[tag] {
		return
	}

	if depth > 0 && blockTags[tag] {
		r.write("\n" + strings.Repeat("  ", depth))
	}

	r.write("<" + tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, attr.Key) {
			r.write(fmt.Sprintf(` %s="%s"`, attr.Key, html.EscapeString(attr.Val)))
		}
	}
	r.write(">")

	r.children(n, depth+1)

	if !voidTags[tag] {
		if blockTags[tag] {
			r.write("\n" + strings.Repeat("  ", depth))
		}
		r.write("</" + tag + ">")
	}
}

func (r *reducer) children(n *html.Node, depth int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c, depth)
		if r.truncated {
			return
		}
	}
}

// skippedTags are removed along with their entire subtree.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"canvas":   true,
	"head":     true,
}

// blockTags get their own indented line in the output.
var blockTags = map[string]bool{
	"div":        true,
	"p":          true,
	"section":    true,
	"article":    true,
	"header":     true,
	"footer":     true,
	"nav":        true,
	"main":       true,
	"aside":      true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"ul":         true,
	"ol":         true,
	"li":         true,
	"table":      true,
	"tr":         true,
	"td":         true,
	"th":         true,
	"form":       true,
	"fieldset":   true,
	"blockquote": true,
	"pre":        true,
}

// voidTags never take a closing tag.
var voidTags = map[string]bool{
	"area":   true,
	"base":   true,
	"br":     true,
	"col":    true,
	"embed":  true,
	"hr":     true,
	"img":    true,
	"input":  true,
	"link":   true,
	"meta":   true,
	"param":  true,
	"source": true,
	"track":  true,
	"wbr":    true,
}

// keepAttribute reports whether an attribute is worth keeping for
// selector targeting and page understanding.
func keepAttribute(tag, name string) bool {
	name = strings.ToLower(name)

	switch name {
	case "id", "class", "role", "aria-label", "aria-describedby":
		return true
	}
	if strings.HasPrefix(name, "data-") {
		return true
	}

	switch tag {
	case "a":
		return name == "href" || name == "target"
	case "img":
		return name == "src" || name == "alt"
	case "input", "textarea", "select":
		return name == "name" || name == "type" || name == "placeholder" || name == "value"
	case "button":
		return name == "type" || name == "name"
	case "form":
		return name == "action" || name == "method"
	}
	return false
}

// findFirst walks the tree until extract returns a non-empty value.
func findFirst(n *html.Node, extract func(*html.Node) string) string {
	if v := extract(n); v != "" {
		return v
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := findFirst(c, extract); v != "" {
			return v
		}
	}
	return ""
}

func findTitle(doc *html.Node) string {
	return findFirst(doc, func(n *html.Node) string {
		if n.Type == html.ElementNode && n.Data == "title" &&
			n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	})
}

func findMetaDescription(doc *html.Node) string {
	return findFirst(doc, func(n *html.Node) string {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return ""
		}
		var isDescription bool
		var content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name":
				isDescription = attr.Val == "description"
			case "content":
				content = attr.Val
			}
		}
		if isDescription {
			return strings.TrimSpace(content)
		}
		return ""
	})
}
