// internal/browser/dom/document.go
package dom

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/depthlens/internal/browser/loop"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// NodeID is a stable per-document identity for a node. IDs are never reused,
// so a recycled node that looks identical to a removed one gets a new ID.
type NodeID uint64

// Default viewport used when Options leave it unset.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// Options configures a Document.
type Options struct {
	Logger *zap.Logger
	// Loop runs listener, observer and load callbacks. Required.
	Loop           *loop.Loop
	URL            string
	ViewportWidth  float64
	ViewportHeight float64
}

// Document is a live, mutable HTML document with browser-like observation,
// events and geometry. It is owned by its loop goroutine; only loop tasks may
// call its methods.
type Document struct {
	logger *zap.Logger
	loop   *loop.Loop
	root   *html.Node
	base   *url.URL

	ids    map[*html.Node]NodeID
	nodes  map[NodeID]*html.Node
	nextID NodeID
	// removed holds roots of subtrees detached through Remove since the
	// last Collect.
	removed map[*html.Node]struct{}

	observers []*MutationObserver
	events    eventRegistry
	images    map[*html.Node]*ImageState

	viewportWidth, viewportHeight float64
	scrollX, scrollY              float64

	generation uint64
	geometry   geometryCache
	styles     *style.Engine
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts Options) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return New(root, opts)
}

// ParseString is Parse over a string.
func ParseString(src string, opts Options) (*Document, error) {
	return Parse(strings.NewReader(src), opts)
}

// New wraps an already parsed document node.
func New(root *html.Node, opts Options) (*Document, error) {
	if root == nil || root.Type != html.DocumentNode {
		return nil, fmt.Errorf("root must be a document node")
	}
	if opts.Loop == nil {
		return nil, fmt.Errorf("a loop is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid document url %q: %w", opts.URL, err)
	}
	d := &Document{
		logger:         logger.Named("dom"),
		loop:           opts.Loop,
		root:           root,
		base:           base,
		ids:            make(map[*html.Node]NodeID),
		nodes:          make(map[NodeID]*html.Node),
		removed:        make(map[*html.Node]struct{}),
		images:         make(map[*html.Node]*ImageState),
		viewportWidth:  opts.ViewportWidth,
		viewportHeight: opts.ViewportHeight,
		styles:         style.NewEngine(),
	}
	if d.viewportWidth <= 0 {
		d.viewportWidth = DefaultViewportWidth
	}
	if d.viewportHeight <= 0 {
		d.viewportHeight = DefaultViewportHeight
	}
	d.events.init()
	return d, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Loop returns the loop the document dispatches on.
func (d *Document) Loop() *loop.Loop { return d.loop }

// Generation increases on every change that can affect style or geometry.
func (d *Document) Generation() uint64 { return d.generation }

func (d *Document) touch() { d.generation++ }

// DocumentElement returns <html>.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Body returns <body>, or nil.
func (d *Document) Body() *html.Node {
	if el := d.DocumentElement(); el != nil {
		for c := el.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Body {
				return c
			}
		}
	}
	return nil
}

// -- Identity --

// ID returns the node's identity, assigning one on first use.
func (d *Document) ID(n *html.Node) NodeID {
	if n == nil {
		return 0
	}
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.nextID++
	d.ids[n] = d.nextID
	d.nodes[d.nextID] = n
	return d.nextID
}

// NodeByID resolves an identity to its node if the node is still connected.
func (d *Document) NodeByID(id NodeID) *html.Node {
	n, ok := d.nodes[id]
	if !ok || !d.IsConnected(n) {
		return nil
	}
	return n
}

// Collect forgets the identity, load state and listeners of every subtree
// taken out through Remove that is still outside the document. A collected
// node inserted again is a new node: it gets a fresh identity and must load
// again. Nodes created and never removed are left alone. Returns the number
// of identities forgotten.
func (d *Document) Collect() int {
	forgotten := 0
	for root := range d.removed {
		delete(d.removed, root)
		if d.IsConnected(root) {
			continue
		}
		Walk(root, func(n *html.Node) bool {
			if id, ok := d.ids[n]; ok {
				delete(d.ids, n)
				delete(d.nodes, id)
				forgotten++
			}
			delete(d.images, n)
			d.events.dropNode(n)
			return true
		})
	}
	return forgotten
}

// IsConnected reports whether n is inside this document.
func (d *Document) IsConnected(n *html.Node) bool {
	for x := n; x != nil; x = x.Parent {
		if x == d.root {
			return true
		}
	}
	return false
}

// -- URLs --

// URL returns the document URL.
func (d *Document) URL() *url.URL { return d.base }

// Origin returns scheme://host of the document, or "" for opaque documents.
func (d *Document) Origin() string { return originOf(d.base) }

func originOf(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// ResolveURL resolves ref against the document URL.
func (d *Document) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// SameOrigin reports whether ref (resolved) shares the document's origin.
// Data URLs count as same-origin.
func (d *Document) SameOrigin(ref string) bool {
	resolved := d.ResolveURL(ref)
	if strings.HasPrefix(resolved, "data:") {
		return true
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	o := d.Origin()
	return o != "" && originOf(u) == o
}

// -- Creation --

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateTextNode returns a detached text node.
func (d *Document) CreateTextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// CloneNode copies n without its parent. Deep copies the subtree.
func (d *Document) CloneNode(n *html.Node, deep bool) *html.Node {
	c := &html.Node{Type: n.Type, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
	c.Attr = append([]html.Attribute(nil), n.Attr...)
	if deep {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			c.AppendChild(d.CloneNode(ch, true))
		}
	}
	return c
}

// -- Tree Mutation --

// AppendChild moves child to the end of parent's children.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref, or at the end when ref is nil. A
// child that already has a parent is removed from it first.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if parent == nil || child == nil || child == ref {
		return
	}
	if ref != nil && ref.Parent != parent {
		ref = nil
	}
	if child.Parent != nil {
		d.Remove(child)
	}
	parent.InsertBefore(child, ref)
	d.touch()
	d.notify(MutationRecord{Type: ChildList, Target: parent, Added: []*html.Node{child}})
}

// Remove detaches n from its parent. Detached nodes keep their identity
// until the next Collect.
func (d *Document) Remove(n *html.Node) {
	if n == nil || n.Parent == nil {
		return
	}
	parent := n.Parent
	d.removed[n] = struct{}{}
	parent.RemoveChild(n)
	d.touch()
	d.notify(MutationRecord{Type: ChildList, Target: parent, Removed: []*html.Node{n}})
}

// ReplaceWith swaps old for replacement at the same position.
func (d *Document) ReplaceWith(old, replacement *html.Node) {
	if old == nil || old.Parent == nil {
		return
	}
	parent, next := old.Parent, old.NextSibling
	d.Remove(old)
	d.InsertBefore(parent, replacement, next)
}

// SetText replaces n's children with a single text node.
func (d *Document) SetText(n *html.Node, text string) {
	for n.FirstChild != nil {
		d.Remove(n.FirstChild)
	}
	if text != "" {
		d.AppendChild(n, d.CreateTextNode(text))
	}
}

// -- Attributes --

// SetAttr sets an attribute, recording the old value for observers.
func (d *Document) SetAttr(n *html.Node, key, value string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	old, had := Attr(n, key)
	if had && old == value {
		return
	}
	replaced := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = value
			replaced = true
			break
		}
	}
	if !replaced {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
	}
	if key == "src" || key == "srcset" {
		d.resetImage(n)
	}
	d.touch()
	d.notify(MutationRecord{Type: Attributes, Target: n, AttributeName: key, OldValue: old})
}

// RemoveAttr deletes an attribute if present.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	if n == nil {
		return
	}
	old, had := Attr(n, key)
	if !had {
		return
	}
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
	d.touch()
	d.notify(MutationRecord{Type: Attributes, Target: n, AttributeName: key, OldValue: old})
}

// AddClass adds class tokens not already present.
func (d *Document) AddClass(n *html.Node, classes ...string) {
	current := Classes(n)
	changed := false
	for _, c := range classes {
		if c != "" && !containsString(current, c) {
			current = append(current, c)
			changed = true
		}
	}
	if changed {
		d.SetAttr(n, "class", strings.Join(current, " "))
	}
}

// RemoveClass removes class tokens.
func (d *Document) RemoveClass(n *html.Node, classes ...string) {
	current := Classes(n)
	out := current[:0:0]
	for _, c := range current {
		if !containsString(classes, c) {
			out = append(out, c)
		}
	}
	if len(out) != len(current) {
		d.SetAttr(n, "class", strings.Join(out, " "))
	}
}

// -- Inline Style --

// InlineStyle returns the value of prop in n's style attribute.
func (d *Document) InlineStyle(n *html.Node, prop string) (string, bool) {
	for _, decl := range inlineDeclarations(n) {
		if string(decl.Property) == prop {
			return string(decl.Value), true
		}
	}
	return "", false
}

// SetStyle sets prop in n's style attribute, keeping other declarations.
func (d *Document) SetStyle(n *html.Node, prop, value string) {
	decls := inlineDeclarations(n)
	found := false
	for i := range decls {
		if string(decls[i].Property) == prop {
			decls[i].Value = parser.Value(value)
			decls[i].Important = false
			found = true
		}
	}
	if !found {
		decls = append(decls, parser.Declaration{Property: parser.Property(prop), Value: parser.Value(value)})
	}
	d.writeStyle(n, decls)
}

// RemoveStyle drops prop from n's style attribute.
func (d *Document) RemoveStyle(n *html.Node, prop string) {
	decls := inlineDeclarations(n)
	out := decls[:0]
	for _, decl := range decls {
		if string(decl.Property) != prop {
			out = append(out, decl)
		}
	}
	if len(out) == len(decls) {
		return
	}
	d.writeStyle(n, out)
}

func inlineDeclarations(n *html.Node) []parser.Declaration {
	v, ok := Attr(n, "style")
	if !ok {
		return nil
	}
	return parser.ParseDeclarations(v)
}

func (d *Document) writeStyle(n *html.Node, decls []parser.Declaration) {
	if len(decls) == 0 {
		d.RemoveAttr(n, "style")
		return
	}
	var b strings.Builder
	for i, decl := range decls {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(string(decl.Property))
		b.WriteString(": ")
		b.WriteString(string(decl.Value))
		if decl.Important {
			b.WriteString(" !important")
		}
		b.WriteString(";")
	}
	d.SetAttr(n, "style", b.String())
}

// -- Serialization --

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// OuterHTML renders a single node.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
