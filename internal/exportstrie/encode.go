package exportstrie

import (
	"bytes"
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

// buildNode is an in-memory radix-trie node built from sorted export
// entries before ULEB128 serialization; children are kept sorted by edge
// label so Encode's output is deterministic across runs.
type buildNode struct {
	entry    *atom.ExportEntry // nil for non-terminal nodes
	children map[string]*buildNode
	// offset is filled in during the fixed-point layout pass below.
	offset uint64
	size   uint64
}

func newBuildNode() *buildNode { return &buildNode{children: map[string]*buildNode{}} }

func (n *buildNode) insert(name string, e atom.ExportEntry) {
	cur := n
	for len(name) > 0 {
		matched := false
		for label, child := range cur.children {
			common := commonPrefixLen(label, name)
			if common == 0 {
				continue
			}
			matched = true
			if common == len(label) {
				cur = child
				name = name[common:]
			} else {
				// Split the existing edge at the common prefix.
				split := newBuildNode()
				split.children[label[common:]] = child
				delete(cur.children, label)
				cur.children[label[:common]] = split
				cur = split
				name = name[common:]
			}
			break
		}
		if matched {
			continue
		}
		leaf := newBuildNode()
		cur.children[name] = leaf
		cur = leaf
		name = ""
	}
	cpy := e
	cur.entry = &cpy
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Encode serializes entries into dyld's compressed export-trie format
// (spec.md §4.8), returning the byte stream to be placed in LINKEDIT.
func Encode(entries []atom.ExportEntry, loadAddress uint64, opts Options) []byte {
	root := newBuildNode()
	sorted := append([]atom.ExportEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, e := range sorted {
		root.insert(e.Name, e)
	}

	// Node offsets depend on every other node's encoded size, which in
	// turn depends on ULEB128-encoded offsets (variable width) — the
	// classic trie fixed-point problem. Iterate layout until offsets
	// stop moving, the same approach ld64 uses for branch islands
	// (spec.md §4.5) and is what this encoder borrows the shape of.
	order := collectPreorder(root)
	for {
		changed := false
		var cursor uint64
		for _, n := range order {
			n.offset = cursor
			n.size = measureNode(n, loadAddress)
			cursor += n.size
		}
		for _, n := range order {
			want := measureNode(n, loadAddress)
			if want != n.size {
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	var buf bytes.Buffer
	for _, n := range order {
		writeNode(&buf, n, loadAddress)
	}

	align := opts.Align
	if align == 0 {
		align = defaultAlign
	}
	out := buf.Bytes()
	if align > 1 {
		if rem := uint64(len(out)) % align; rem != 0 {
			out = append(out, make([]byte, align-rem)...)
		}
	}
	return out
}

func collectPreorder(n *buildNode) []*buildNode {
	var out []*buildNode
	var walk func(*buildNode)
	walk = func(cur *buildNode) {
		out = append(out, cur)
		labels := make([]string, 0, len(cur.children))
		for l := range cur.children {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			walk(cur.children[l])
		}
	}
	walk(n)
	return out
}

func measureNode(n *buildNode, loadAddress uint64) uint64 {
	var tmp bytes.Buffer
	writeTerminal(&tmp, n, loadAddress)
	total := uint64(tmp.Len())

	labels := make([]string, 0, len(n.children))
	for l := range n.children {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	total++ // child count byte
	for _, l := range labels {
		total += uint64(len(l)) + 1 // label + NUL
		var off bytes.Buffer
		putUleb128(&off, n.children[l].offset)
		total += uint64(off.Len())
	}
	return total
}

func writeTerminal(buf *bytes.Buffer, n *buildNode, loadAddress uint64) {
	if n.entry == nil {
		putUleb128(buf, 0)
		return
	}
	var body bytes.Buffer
	e := n.entry
	putUleb128(&body, e.Flags)
	if e.ImportName != "" {
		putUleb128(&body, e.Other)
		body.WriteString(e.ImportName)
		body.WriteByte(0)
	} else if e.Other != 0 {
		putUleb128(&body, relativize(e.Other, loadAddress))
	}
	putUleb128(&body, relativize(e.Offset, loadAddress))
	putUleb128(buf, uint64(body.Len()))
	buf.Write(body.Bytes())
}

func relativize(v, loadAddress uint64) uint64 {
	if v >= loadAddress {
		return v - loadAddress
	}
	return v
}

func writeNode(buf *bytes.Buffer, n *buildNode, loadAddress uint64) {
	writeTerminal(buf, n, loadAddress)

	labels := make([]string, 0, len(n.children))
	for l := range n.children {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	buf.WriteByte(byte(len(labels)))
	for _, l := range labels {
		buf.WriteString(l)
		buf.WriteByte(0)
		putUleb128(buf, n.children[l].offset)
	}
}
