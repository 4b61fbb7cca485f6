package timefmt

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rescanner rewrites timestamps embedded in already rendered markup.
type Rescanner interface {
	Rescan(root *html.Node)
	RescanDocument(r io.Reader, w io.Writer) error
}

// updatedLabel is the literal "updated:" token that may precede an embedded timestamp
const updatedLabel = "atualizado:"

// embeddedRe finds local or Brazilian datetimes inside free text, optionally
// wrapped in parentheses and optionally preceded by the updated label.
var embeddedRe = regexp.MustCompile(
	`(\(?)((?:` + updatedLabel + `\s*)?)` +
		`(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}|\d{2}/\d{2}/\d{4}[,\s]\s*\d{2}:\d{2}:\d{2})` +
		`(\)?)`)

// RescanText replaces every embedded timestamp in s with its full display form,
// keeping any parentheses and label it was found with. Timestamps that do not
// parse are left as they were. Applying it to its own output changes nothing.
func (n *Normalizer) RescanText(s string) string {
	if !embeddedRe.MatchString(s) {
		return s
	}
	return embeddedRe.ReplaceAllStringFunc(s, func(found string) string {
		m := embeddedRe.FindStringSubmatch(found)
		open, label, ts, closing := m[1], m[2], m[3], m[4]

		// Rescanning always parses with zero offset so a second pass is a no-op.
		rendered := ts
		if i := n.ParseWithOffset(ts, 0); i.Valid() {
			rendered = FormatFull(i)
		}
		if label != "" {
			label = updatedLabel + " "
		}
		return open + label + rendered + closing
	})
}

// Rescan rewrites every text node below root in place.
func (n *Normalizer) Rescan(root *html.Node) {
	if root == nil {
		return
	}
	if root.Type == html.TextNode {
		root.Data = n.RescanText(root.Data)
		return
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		n.Rescan(c)
	}
}

// RescanDocument parses a full HTML document from r, rescans it and renders it to w.
func (n *Normalizer) RescanDocument(r io.Reader, w io.Writer) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	n.Rescan(doc)
	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	return nil
}

// RescanHTML rescans an HTML fragment rendered in a <body> context.
func (n *Normalizer) RescanHTML(fragment string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", fmt.Errorf("failed to parse fragment: %w", err)
	}

	var buf bytes.Buffer
	for _, node := range nodes {
		n.Rescan(node)
		if err := html.Render(&buf, node); err != nil {
			return "", fmt.Errorf("failed to render fragment: %w", err)
		}
	}
	return buf.String(), nil
}

// Rescan rewrites text nodes below root with the default normalizer.
func Rescan(root *html.Node) {
	std.Rescan(root)
}

// RescanText rewrites embedded timestamps in s with the default normalizer.
func RescanText(s string) string {
	return std.RescanText(s)
}

// RescanHTML rescans an HTML fragment with the default normalizer.
func RescanHTML(fragment string) (string, error) {
	return std.RescanHTML(fragment)
}
