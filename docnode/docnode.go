// Package docnode models a structured configuration document as a tree of
// mappings, sequences and typed scalars, and reads/writes that tree as YAML.
//
// The model exists so the rest of the tool never touches yaml.Node
// directly. Two things must survive a round trip byte-for-byte: key order
// within mappings, and scalar typing — a previously-quoted "5" must come
// back as the string "5", not the integer 5.
package docnode

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the node union.
type Kind int

const (
	// MappingKind is an ordered key → child mapping.
	MappingKind Kind = iota
	// SequenceKind is an ordered list of children.
	SequenceKind
	// ScalarKind is a leaf value.
	ScalarKind
)

// ScalarType is the runtime type tag of a scalar node.
type ScalarType int

const (
	StringType ScalarType = iota
	IntType
	FloatType
	BoolType
	NullType
)

// Pair is one key/value entry of a mapping, in document order.
type Pair struct {
	Key   string
	Value *Node
}

// Node is one node of the document tree.
type Node struct {
	Kind Kind

	// Pairs holds mapping entries (MappingKind only).
	Pairs []Pair
	// Items holds sequence elements (SequenceKind only).
	Items []*Node

	// Value is the scalar's literal text as it appeared in the source
	// (ScalarKind only). Typing lives in Type, not in the text.
	Value string
	// Type is the scalar type tag (ScalarKind only).
	Type ScalarType
	// Style preserves the source scalar style (quoting, block style)
	// for round-trip fidelity.
	Style yaml.Style
}

// Scalar builds a string scalar node.
func Scalar(value string) *Node {
	return &Node{Kind: ScalarKind, Type: StringType, Value: value}
}

// Mapping builds an empty mapping node.
func Mapping() *Node {
	return &Node{Kind: MappingKind}
}

// Sequence builds an empty sequence node.
func Sequence() *Node {
	return &Node{Kind: SequenceKind}
}

// Set appends or replaces a mapping entry, preserving insertion order.
func (n *Node) Set(key string, child *Node) {
	for i := range n.Pairs {
		if n.Pairs[i].Key == key {
			n.Pairs[i].Value = child
			return
		}
	}
	n.Pairs = append(n.Pairs, Pair{Key: key, Value: child})
}

// Get returns the mapping entry for key, or nil.
func (n *Node) Get(key string) *Node {
	for i := range n.Pairs {
		if n.Pairs[i].Key == key {
			return n.Pairs[i].Value
		}
	}
	return nil
}

// Equal reports deep equality of two trees. Style differences are ignored:
// equality is about structure, order, typing and values.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case MappingKind:
		if len(a.Pairs) != len(b.Pairs) {
			return false
		}
		for i := range a.Pairs {
			if a.Pairs[i].Key != b.Pairs[i].Key || !Equal(a.Pairs[i].Value, b.Pairs[i].Value) {
				return false
			}
		}
		return true
	case SequenceKind:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	default:
		return a.Type == b.Type && a.Value == b.Value
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Parse decodes YAML data into a document tree.
func Parse(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		// Empty document.
		return Mapping(), nil
	}
	return fromYAML(doc.Content[0])
}

// ParseFile reads and decodes a YAML document file.
func ParseFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return n, nil
}

func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.MappingNode:
		n := Mapping()
		for i := 0; i+1 < len(y.Content); i += 2 {
			child, err := fromYAML(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			n.Pairs = append(n.Pairs, Pair{Key: y.Content[i].Value, Value: child})
		}
		return n, nil
	case yaml.SequenceNode:
		n := Sequence()
		for _, item := range y.Content {
			child, err := fromYAML(item)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case yaml.ScalarNode:
		return &Node{
			Kind:  ScalarKind,
			Type:  scalarType(y),
			Value: y.Value,
			Style: y.Style,
		}, nil
	case yaml.AliasNode:
		// Resolve aliases eagerly; the output has no anchors.
		return fromYAML(y.Alias)
	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d at line %d", y.Kind, y.Line)
	}
}

// scalarType maps a yaml scalar tag to a type tag. Quoted scalars are
// always strings regardless of what the text looks like.
func scalarType(y *yaml.Node) ScalarType {
	if y.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0 {
		return StringType
	}
	switch y.Tag {
	case "!!int":
		return IntType
	case "!!float":
		return FloatType
	case "!!bool":
		return BoolType
	case "!!null":
		return NullType
	default:
		return StringType
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serialises the tree back to YAML, preserving key order and
// scalar typing.
func Marshal(n *Node) ([]byte, error) {
	y, err := toYAML(n)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(y)
}

// WriteFile serialises the tree and writes it to path.
func WriteFile(n *Node, path string) error {
	data, err := Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func toYAML(n *Node) (*yaml.Node, error) {
	switch n.Kind {
	case MappingKind:
		y := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, p := range n.Pairs {
			child, err := toYAML(p.Value)
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Key},
				child)
		}
		return y, nil
	case SequenceKind:
		y := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.Items {
			child, err := toYAML(item)
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content, child)
		}
		return y, nil
	case ScalarKind:
		return scalarYAML(n), nil
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.Kind)
	}
}

func scalarYAML(n *Node) *yaml.Node {
	y := &yaml.Node{Kind: yaml.ScalarNode, Value: n.Value, Style: n.Style}
	switch n.Type {
	case IntType:
		y.Tag = "!!int"
	case FloatType:
		y.Tag = "!!float"
	case BoolType:
		y.Tag = "!!bool"
	case NullType:
		y.Tag = "!!null"
	default:
		y.Tag = "!!str"
		// A plain string that parses as something else must be quoted
		// or it re-types on the next read.
		if y.Style == 0 && needsQuoting(n.Value) {
			y.Style = yaml.DoubleQuotedStyle
		}
	}
	return y
}

// needsQuoting reports whether a plain-style string scalar would be read
// back as a different type.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	var probe yaml.Node
	if err := yaml.Unmarshal([]byte(s), &probe); err != nil {
		return true
	}
	if len(probe.Content) == 0 {
		return true
	}
	v := probe.Content[0]
	return v.Kind != yaml.ScalarNode || v.Tag != "!!str"
}
