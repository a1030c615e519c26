// Package flatten maps a document tree to an ordered list of addressable
// leaves and back.
//
// A leaf is addressed by a Path of typed segments: mapping keys and
// sequence indices are distinct segment kinds, so a key that happens to
// contain a dot (or look like an index) can never be confused with
// structure. Paths only become strings at the progress-store boundary,
// through an escaped encoding that ParsePath reverses exactly.
package flatten

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/shield"
)

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// Segment is one step of a leaf path: either a mapping key or a sequence
// index, never both.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// KeySegment builds a mapping-key segment.
func KeySegment(key string) Segment {
	return Segment{Key: key}
}

// IndexSegment builds a sequence-index segment.
func IndexSegment(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

// Path addresses one scalar in the tree. Paths are stable for the lifetime
// of a run: flattening the same tree twice yields identical paths in
// identical order.
type Path []Segment

// Child returns a new path extended by one segment. The backing array is
// copied so sibling paths never alias.
func (p Path) Child(seg Segment) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, seg)
}

// keyEscaper escapes the characters that are meaningful in the serialized
// form: the segment separator, the index bracket, and the escape itself.
var keyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `[`, `\[`)

// String serialises the path. Key segments are dot-joined with '.', '[' and
// '\' backslash-escaped; index segments render as "[n]". The encoding is
// unambiguous: ParsePath(p.String()) == p for every path.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(keyEscaper.Replace(seg.Key))
	}
	return b.String()
}

// ParsePath reverses Path.String.
func ParsePath(s string) (Path, error) {
	var p Path
	var key strings.Builder
	keyOpen := false

	flush := func() {
		if keyOpen {
			p = append(p, KeySegment(key.String()))
			key.Reset()
			keyOpen = false
		}
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 >= len(s) {
				return nil, fmt.Errorf("path %q: trailing escape", s)
			}
			i++
			key.WriteByte(s[i])
			keyOpen = true
		case '.':
			if !keyOpen {
				return nil, fmt.Errorf("path %q: empty segment at byte %d", s, i)
			}
			flush()
			// The dot must introduce a key segment.
			if i+1 >= len(s) {
				return nil, fmt.Errorf("path %q: trailing separator", s)
			}
			if s[i+1] == '[' {
				return nil, fmt.Errorf("path %q: separator before index at byte %d", s, i)
			}
		case '[':
			flush()
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated index at byte %d", s, i)
			}
			idx, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path %q: bad index at byte %d", s, i)
			}
			p = append(p, IndexSegment(idx))
			i += end
			// After an index, either another segment or the end.
			if i+1 < len(s) && s[i+1] == '.' {
				i++
				if i+1 >= len(s) {
					return nil, fmt.Errorf("path %q: trailing separator", s)
				}
			}
		default:
			key.WriteByte(c)
			keyOpen = true
		}
	}
	flush()
	if len(p) == 0 {
		return nil, fmt.Errorf("path %q: empty", s)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Flattening
// ---------------------------------------------------------------------------

// Leaf is one scalar of the document with its address and translation
// candidacy. Leaves are owned by a single pipeline run.
type Leaf struct {
	Path Path
	// Node is the scalar node itself (value, type tag, style).
	Node *docnode.Node
	// Translatable marks string scalars with real words in them.
	Translatable bool
}

// Flatten walks the tree in deterministic pre-order — mapping keys in
// stored order, sequence elements by ascending index — and returns one
// Leaf per scalar. Container nodes are implicit in the paths.
func Flatten(root *docnode.Node) []Leaf {
	var leaves []Leaf
	walk(root, nil, &leaves)
	return leaves
}

func walk(n *docnode.Node, p Path, out *[]Leaf) {
	switch n.Kind {
	case docnode.MappingKind:
		for _, pair := range n.Pairs {
			walk(pair.Value, p.Child(KeySegment(pair.Key)), out)
		}
	case docnode.SequenceKind:
		for i, item := range n.Items {
			walk(item, p.Child(IndexSegment(i)), out)
		}
	case docnode.ScalarKind:
		*out = append(*out, Leaf{
			Path:         p,
			Node:         n,
			Translatable: n.Type == docnode.StringType && shield.Translatable(n.Value),
		})
	}
}

// ---------------------------------------------------------------------------
// Unflattening
// ---------------------------------------------------------------------------

// Unflatten rebuilds a document tree from leaves, creating intermediate
// containers as dictated by segment types: key segment ⇒ mapping, index
// segment ⇒ sequence (indices contiguous from 0). Leaves are placed by
// path, so input order only matters for mapping key order — which the
// Flatten order already carries.
func Unflatten(leaves []Leaf) (*docnode.Node, error) {
	if len(leaves) == 0 {
		return docnode.Mapping(), nil
	}
	// A scalar root flattens to a single leaf with an empty path: the
	// leaf is the document.
	if len(leaves[0].Path) == 0 {
		if len(leaves) > 1 {
			return nil, fmt.Errorf("scalar root alongside %d other leaves", len(leaves)-1)
		}
		return leaves[0].Node, nil
	}
	root, err := container(leaves[0].Path[0])
	if err != nil {
		return nil, err
	}
	for _, leaf := range leaves {
		if err := place(root, leaf.Path, leaf.Node); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func container(seg Segment) (*docnode.Node, error) {
	if seg.IsIndex {
		return docnode.Sequence(), nil
	}
	return docnode.Mapping(), nil
}

func place(root *docnode.Node, p Path, value *docnode.Node) error {
	if len(p) == 0 {
		return fmt.Errorf("cannot place a leaf with an empty path")
	}
	cur := root
	for i, seg := range p {
		last := i == len(p)-1

		if seg.IsIndex {
			if cur.Kind != docnode.SequenceKind {
				return fmt.Errorf("path %s: index segment into non-sequence", p)
			}
			if seg.Index > len(cur.Items) {
				return fmt.Errorf("path %s: non-contiguous index %d", p, seg.Index)
			}
			if last {
				if seg.Index == len(cur.Items) {
					cur.Items = append(cur.Items, value)
				} else {
					cur.Items[seg.Index] = value
				}
				return nil
			}
			if seg.Index == len(cur.Items) {
				next, err := container(p[i+1])
				if err != nil {
					return err
				}
				cur.Items = append(cur.Items, next)
			}
			cur = cur.Items[seg.Index]
			continue
		}

		if cur.Kind != docnode.MappingKind {
			return fmt.Errorf("path %s: key segment into non-mapping", p)
		}
		if last {
			cur.Set(seg.Key, value)
			return nil
		}
		next := cur.Get(seg.Key)
		if next == nil {
			var err error
			next, err = container(p[i+1])
			if err != nil {
				return err
			}
			cur.Set(seg.Key, next)
		}
		cur = next
	}
	return nil
}
