// Package preview builds the static fallback preview of a project.
//
// [Render] produces a single self-contained HTML document from a file set
// by inlining the stylesheets and scripts the markup entry references.
// Nothing is executed while rendering. The result is for display only and
// is never fed back into prompts.
package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/project"
)

// Document is a rendered static preview.
type Document struct {
	// Entry is the markup file the document was built from, or empty when
	// the base template was used.
	Entry string `json:"entry,omitempty"`

	// Inlined lists the files whose content was embedded, in document order.
	Inlined []string `json:"inlined,omitempty"`

	HTML string `json:"html"`
}

// DataURL returns the document as a base64 data URL.
func (d Document) DataURL() string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(d.HTML))
}

// Fallback assets appended when the markup references none of its own.
var (
	fallbackStyles  = []string{"style.css", "styles.css"}
	fallbackScripts = []string{"script.js", "index.js", "main.js"}
)

const baseTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Preview</title>
</head>
<body>
<div id="app"></div>
</body>
</html>`

// Render builds a static document from files.
func Render(files project.FileSet) (Document, error) {
	doc := Document{}
	markup := baseTemplate
	if entry, ok := merge.Entry(files); ok && entry.Kind == merge.EntryMarkup {
		doc.Entry = entry.Name
		markup = files[entry.Name]
	}

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", doc.Entry, err)
	}

	r := &renderer{files: files, base: path.Dir(doc.Entry), inlined: make(map[string]bool)}
	r.walk(root)

	head := findElement(root, atom.Head)
	body := findElement(root, atom.Body)

	if !r.hasStyle {
		if name, ok := r.firstUnused(fallbackStyles); ok && head != nil {
			head.AppendChild(r.styleNode(name))
		}
	}
	if !r.hasScript {
		if name, ok := r.firstUnused(fallbackScripts); ok && body != nil {
			body.AppendChild(r.scriptNode(name))
		}
	}
	if doc.Entry == "" && body != nil {
		if entry, ok := merge.Entry(files); ok && strings.HasSuffix(entry.Name, ".py") {
			body.AppendChild(sourceListing(entry.Name, files[entry.Name]))
		}
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return Document{}, fmt.Errorf("rendering preview: %w", err)
	}
	doc.HTML = buf.String()
	doc.Inlined = r.order
	return doc, nil
}

type renderer struct {
	files   project.FileSet
	base    string
	inlined map[string]bool
	order   []string

	hasStyle  bool
	hasScript bool
}

func (r *renderer) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Link:
				if isStylesheet(c) {
					if name, ok := r.local(attr(c, "href")); ok {
						n.InsertBefore(r.styleNode(name), c)
						n.RemoveChild(c)
					}
				}
			case atom.Style:
				r.hasStyle = true
			case atom.Script:
				r.inlineScript(c)
			}
		}
		r.walk(c)
		c = next
	}
}

func (r *renderer) inlineScript(n *html.Node) {
	src := attr(n, "src")
	if src == "" {
		if n.FirstChild != nil {
			r.hasScript = true
		}
		return
	}
	name, ok := r.local(src)
	if !ok {
		return
	}
	removeAttr(n, "src")
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: escapeRawText(r.files[name], "script")})
	r.markInlined(name)
	r.hasScript = true
}

func (r *renderer) styleNode(name string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: escapeRawText(r.files[name], "style")})
	r.markInlined(name)
	r.hasStyle = true
	return n
}

func (r *renderer) scriptNode(name string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: escapeRawText(r.files[name], "script")})
	r.markInlined(name)
	r.hasScript = true
	return n
}

func (r *renderer) markInlined(name string) {
	if !r.inlined[name] {
		r.inlined[name] = true
		r.order = append(r.order, name)
	}
}

func (r *renderer) firstUnused(names []string) (string, bool) {
	for _, name := range names {
		if _, ok := r.files[name]; ok && !r.inlined[name] {
			return name, true
		}
	}
	return "", false
}

// local resolves a reference from the markup to a file in the set. Remote
// URLs and references to missing files are left alone.
func (r *renderer) local(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	p := u.Path
	if !strings.HasPrefix(p, "/") {
		p = path.Join(r.base, p)
	}
	name, ok := merge.NormalizeName(p)
	if !ok {
		return "", false
	}
	if _, exists := r.files[name]; !exists {
		return "", false
	}
	return name, true
}

func isStylesheet(n *html.Node) bool {
	for _, rel := range strings.Fields(strings.ToLower(attr(n, "rel"))) {
		if rel == "stylesheet" {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, key) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// escapeRawText keeps inlined content from closing its raw text element
// early.
func escapeRawText(content, tag string) string {
	lower := strings.ToLower(content)
	closing := "</" + tag
	if !strings.Contains(lower, closing) {
		return content
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, closing)
		if i < 0 {
			b.WriteString(content)
			return b.String()
		}
		b.WriteString(content[:i])
		b.WriteString(`<\/`)
		content = content[i+2:]
		lower = lower[i+2:]
	}
}

func sourceListing(name, source string) *html.Node {
	pre := &html.Node{Type: html.ElementNode, Data: "pre", DataAtom: atom.Pre,
		Attr: []html.Attribute{{Key: "data-file", Val: name}}}
	code := &html.Node{Type: html.ElementNode, Data: "code", DataAtom: atom.Code}
	code.AppendChild(&html.Node{Type: html.TextNode, Data: source})
	pre.AppendChild(code)
	return pre
}
