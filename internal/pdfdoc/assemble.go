package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/phpdave11/gofpdi"
)

// gofpdi serializes dictionaries and numbers imported objects in map order,
// so its output differs from run to run. Imported objects are parsed back,
// their dictionary keys sorted and their ids reassigned in reference order
// before the document is written.

var errMalformedObject = errors.New("malformed imported object")

type nodeKind int

const (
	kindAtom nodeKind = iota
	kindRef
	kindArray
	kindDict
)

type entry struct {
	key string
	val node
}

// node is one value of an imported object. Atoms keep their source text;
// refs keep the importer's object hash.
type node struct {
	kind    nodeKind
	atom    string
	items   []node
	entries []entry
}

func (n *node) set(key string, v node) {
	for i := range n.entries {
		if n.entries[i].key == key {
			n.entries[i].val = v
			return
		}
	}
	n.entries = append(n.entries, entry{key: key, val: v})
	sortEntries(n.entries)
}

func sortEntries(es []entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].key < es[j].key })
}

type object struct {
	value    node
	stream   []byte
	isStream bool
}

// importSet holds the pages of one source document as form XObjects.
type importSet struct {
	objects map[string]*object
	forms   []string
}

func importPages(src []byte, pages int) (*importSet, error) {
	imp := gofpdi.NewImporter()
	var rs io.ReadSeeker = bytes.NewReader(src)
	imp.SetSourceStream(&rs)
	for n := 1; n <= pages; n++ {
		imp.ImportPage(n, mediaBox)
	}
	names := imp.PutFormXobjectsUnordered()

	set := &importSet{objects: make(map[string]*object), forms: make([]string, pages)}
	for i := range set.forms {
		h, ok := names[fmt.Sprintf("/GOFPDITPL%d", i)]
		if !ok {
			return nil, fmt.Errorf("page %d was not imported", i+1)
		}
		set.forms[i] = h
	}
	for h, raw := range imp.GetImportedObjectsUnordered() {
		obj, err := parseObject(raw)
		if err != nil {
			return nil, err
		}
		set.objects[h] = obj
	}
	return set, nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

const streamTail = "\nendstream\nendobj\n"

func parseObject(b []byte) (*object, error) {
	p := &parser{b: b}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skip()
	if p.hasPrefix("stream") {
		p.pos += len("stream")
		if p.hasPrefix("\r\n") {
			p.pos += 2
		} else if p.hasPrefix("\n") {
			p.pos++
		}
		end := len(b) - len(streamTail)
		if !bytes.HasSuffix(b, []byte(streamTail)) || end < p.pos {
			return nil, fmt.Errorf("%w: unterminated stream", errMalformedObject)
		}
		return &object{value: v, stream: b[p.pos:end], isStream: true}, nil
	}
	if !p.hasPrefix("endobj") {
		return nil, fmt.Errorf("%w: trailing data at %d", errMalformedObject, p.pos)
	}
	return &object{value: v}, nil
}

type parser struct {
	b   []byte
	pos int
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool { return strings.IndexByte("()<>[]{}/%", c) >= 0 }

func (p *parser) skip() {
	for p.pos < len(p.b) && isSpace(p.b[p.pos]) {
		p.pos++
	}
}

func (p *parser) hasPrefix(s string) bool {
	return bytes.HasPrefix(p.b[p.pos:], []byte(s))
}

func (p *parser) value() (node, error) {
	p.skip()
	if p.pos >= len(p.b) {
		return node{}, fmt.Errorf("%w: unexpected end", errMalformedObject)
	}
	switch c := p.b[p.pos]; {
	case p.hasPrefix("<<"):
		return p.dict()
	case c == '[':
		return p.array()
	case c == '(':
		return p.literal()
	case c == '<':
		return p.hex()
	case c == '/':
		return node{kind: kindAtom, atom: p.name()}, nil
	}

	tok := p.word()
	if tok == "" {
		return node{}, fmt.Errorf("%w: unexpected %q at %d", errMalformedObject, p.b[p.pos], p.pos)
	}
	if isHash(tok) {
		save := p.pos
		p.skip()
		gen := p.word()
		p.skip()
		if gen == "0" && p.word() == "R" {
			return node{kind: kindRef, atom: tok}, nil
		}
		p.pos = save
	}
	return node{kind: kindAtom, atom: tok}, nil
}

func (p *parser) word() string {
	start := p.pos
	for p.pos < len(p.b) && !isSpace(p.b[p.pos]) && !isDelim(p.b[p.pos]) {
		p.pos++
	}
	return string(p.b[start:p.pos])
}

func (p *parser) name() string {
	start := p.pos
	p.pos++
	p.word()
	return string(p.b[start:p.pos])
}

func (p *parser) dict() (node, error) {
	p.pos += 2
	n := node{kind: kindDict}
	for {
		p.skip()
		if p.hasPrefix(">>") {
			p.pos += 2
			sortEntries(n.entries)
			return n, nil
		}
		if p.pos >= len(p.b) || p.b[p.pos] != '/' {
			return node{}, fmt.Errorf("%w: dictionary key expected at %d", errMalformedObject, p.pos)
		}
		key := p.name()
		v, err := p.value()
		if err != nil {
			return node{}, err
		}
		n.entries = append(n.entries, entry{key: key, val: v})
	}
}

func (p *parser) array() (node, error) {
	p.pos++
	n := node{kind: kindArray}
	for {
		p.skip()
		if p.pos < len(p.b) && p.b[p.pos] == ']' {
			p.pos++
			return n, nil
		}
		v, err := p.value()
		if err != nil {
			return node{}, err
		}
		n.items = append(n.items, v)
	}
}

func (p *parser) literal() (node, error) {
	start := p.pos
	p.pos++
	depth := 1
	for p.pos < len(p.b) {
		switch p.b[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				p.pos++
				return node{kind: kindAtom, atom: string(p.b[start:p.pos])}, nil
			}
		}
		p.pos++
	}
	return node{}, fmt.Errorf("%w: unterminated string", errMalformedObject)
}

func (p *parser) hex() (node, error) {
	end := bytes.IndexByte(p.b[p.pos:], '>')
	if end < 0 {
		return node{}, fmt.Errorf("%w: unterminated hex string", errMalformedObject)
	}
	start := p.pos
	p.pos += end + 1
	return node{kind: kindAtom, atom: string(p.b[start:p.pos])}, nil
}

func isHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// placement describes one output page: its size and the form of each source
// drawn on it, -1 when that source has nothing for the page.
type placement struct {
	w, h    float64
	src     int
	overlay int
}

type objKey struct {
	set  int
	hash string
}

const (
	setSource = iota
	setOverlay
)

type assembler struct {
	sets    [2]*importSet
	ids     map[objKey]int
	order   []objKey
	next    int
	buf     bytes.Buffer
	offsets []int
}

// assemble writes every page as the source form with the overlay form on
// top. Object ids are fixed by page order and then by first reference, so
// equal input gives equal bytes.
func assemble(pages []placement, src, overlay *importSet, created time.Time) ([]byte, error) {
	a := &assembler{
		sets: [2]*importSet{src, overlay},
		ids:  make(map[objKey]int),
		next: 4 + 2*len(pages),
	}

	for _, pg := range pages {
		if pg.overlay >= 0 {
			form := overlay.objects[overlay.forms[pg.overlay]]
			if form == nil {
				return nil, fmt.Errorf("%w: missing overlay form", errMalformedObject)
			}
			form.value.set("/BBox", bbox(pg.w, pg.h))
		}
	}
	for _, pg := range pages {
		if pg.src >= 0 {
			if err := a.visit(setSource, src.forms[pg.src]); err != nil {
				return nil, err
			}
		}
		if pg.overlay >= 0 {
			if err := a.visit(setOverlay, overlay.forms[pg.overlay]); err != nil {
				return nil, err
			}
		}
	}

	a.offsets = make([]int, a.next)
	a.buf.WriteString("%PDF-1.4\n")

	a.begin(1)
	a.buf.WriteString("<< /Pages 2 0 R /Type /Catalog >>")
	a.end()

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	a.begin(2)
	fmt.Fprintf(&a.buf, "<< /Count %d /Kids [%s] /Type /Pages >>", len(pages), strings.Join(kids, " "))
	a.end()

	a.begin(3)
	fmt.Fprintf(&a.buf, "<< /CreationDate (D:%sZ) /Producer (Keystone) >>", created.UTC().Format("20060102150405"))
	a.end()

	for i, pg := range pages {
		a.writePage(4+2*i, pg)
	}
	for _, k := range a.order {
		a.writeImported(k)
	}

	xref := a.buf.Len()
	fmt.Fprintf(&a.buf, "xref\n0 %d\n", a.next)
	a.buf.WriteString("0000000000 65535 f \n")
	for id := 1; id < a.next; id++ {
		fmt.Fprintf(&a.buf, "%010d 00000 n \n", a.offsets[id])
	}
	fmt.Fprintf(&a.buf, "trailer\n<< /Info 3 0 R /Root 1 0 R /Size %d >>\nstartxref\n%d\n%%%%EOF\n", a.next, xref)
	return a.buf.Bytes(), nil
}

func bbox(w, h float64) node {
	return node{kind: kindArray, items: []node{
		{kind: kindAtom, atom: "0"},
		{kind: kindAtom, atom: "0"},
		{kind: kindAtom, atom: points(w)},
		{kind: kindAtom, atom: points(h)},
	}}
}

func points(v float64) string { return fmt.Sprintf("%.2f", v) }

func (a *assembler) visit(set int, hash string) error {
	k := objKey{set: set, hash: hash}
	if _, ok := a.ids[k]; ok {
		return nil
	}
	obj, ok := a.sets[set].objects[hash]
	if !ok {
		return fmt.Errorf("%w: dangling reference", errMalformedObject)
	}
	a.ids[k] = a.next
	a.next++
	a.order = append(a.order, k)
	return a.walk(set, obj.value)
}

func (a *assembler) walk(set int, n node) error {
	switch n.kind {
	case kindRef:
		return a.visit(set, n.atom)
	case kindArray:
		for _, it := range n.items {
			if err := a.walk(set, it); err != nil {
				return err
			}
		}
	case kindDict:
		for _, e := range n.entries {
			if err := a.walk(set, e.val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *assembler) begin(id int) {
	a.offsets[id] = a.buf.Len()
	fmt.Fprintf(&a.buf, "%d 0 obj\n", id)
}

func (a *assembler) end() { a.buf.WriteString("\nendobj\n") }

func (a *assembler) writePage(id int, pg placement) {
	var xobjects, content []string
	if pg.src >= 0 {
		xobjects = append(xobjects, fmt.Sprintf("/Src %d 0 R", a.ids[objKey{setSource, a.sets[setSource].forms[pg.src]}]))
		content = append(content, "q /Src Do Q")
	}
	if pg.overlay >= 0 {
		xobjects = append(xobjects, fmt.Sprintf("/Sig %d 0 R", a.ids[objKey{setOverlay, a.sets[setOverlay].forms[pg.overlay]}]))
		content = append(content, "q /Sig Do Q")
	}
	stream := strings.Join(content, "\n")

	a.begin(id)
	fmt.Fprintf(&a.buf, "<< /Contents %d 0 R /MediaBox [0 0 %s %s] /Parent 2 0 R /Resources << /XObject << %s >> >> /Type /Page >>",
		id+1, points(pg.w), points(pg.h), strings.Join(xobjects, " "))
	a.end()

	a.begin(id + 1)
	fmt.Fprintf(&a.buf, "<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream)
	a.end()
}

func (a *assembler) writeImported(k objKey) {
	obj := a.sets[k.set].objects[k.hash]
	a.begin(a.ids[k])
	a.write(k.set, obj.value)
	if obj.isStream {
		a.buf.WriteString("\nstream\n")
		a.buf.Write(obj.stream)
		a.buf.WriteString("\nendstream")
	}
	a.end()
}

func (a *assembler) write(set int, n node) {
	switch n.kind {
	case kindAtom:
		a.buf.WriteString(n.atom)
	case kindRef:
		fmt.Fprintf(&a.buf, "%d 0 R", a.ids[objKey{set, n.atom}])
	case kindArray:
		a.buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				a.buf.WriteByte(' ')
			}
			a.write(set, it)
		}
		a.buf.WriteByte(']')
	case kindDict:
		a.buf.WriteString("<<")
		for i, e := range n.entries {
			if i > 0 {
				a.buf.WriteByte(' ')
			}
			a.buf.WriteString(e.key)
			a.buf.WriteByte(' ')
			a.write(set, e.val)
		}
		a.buf.WriteString(">>")
	}
}
