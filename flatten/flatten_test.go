package flatten

import (
	"testing"

	"github.com/treeglot/treeglot/docnode"
)

func mustParse(t *testing.T, src string) *docnode.Node {
	t.Helper()
	n, err := docnode.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return n
}

func TestFlatten_OrderAndPaths(t *testing.T) {
	doc := mustParse(t, `messages:
  greeting: Hello
  items:
    - Sword
    - Shield
settings:
  volume: 10
`)
	leaves := Flatten(doc)
	want := []string{
		"messages.greeting",
		"messages.items[0]",
		"messages.items[1]",
		"settings.volume",
	}
	if len(leaves) != len(want) {
		t.Fatalf("expected %d leaves, got %d", len(want), len(leaves))
	}
	for i, w := range want {
		if got := leaves[i].Path.String(); got != w {
			t.Errorf("leaf %d path = %q, want %q", i, got, w)
		}
	}
}

func TestFlatten_Deterministic(t *testing.T) {
	doc := mustParse(t, `a:
  b: one
  c: [x, y]
d: two
`)
	first := Flatten(doc)
	second := Flatten(doc)
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Path.String() != second[i].Path.String() {
			t.Errorf("leaf %d: %q vs %q", i, first[i].Path, second[i].Path)
		}
	}
}

func TestFlatten_TranslatableFlags(t *testing.T) {
	doc := mustParse(t, `title: Welcome home
count: 42
decor: "{value} &7 %x%"
color: <#FF00AA>
enabled: true
`)
	leaves := Flatten(doc)
	want := map[string]bool{
		"title":   true,
		"count":   false,
		"decor":   false,
		"color":   false,
		"enabled": false,
	}
	for _, leaf := range leaves {
		if leaf.Translatable != want[leaf.Path.String()] {
			t.Errorf("leaf %s translatable = %v, want %v",
				leaf.Path, leaf.Translatable, want[leaf.Path.String()])
		}
	}
}

func TestUnflatten_RoundTrip(t *testing.T) {
	docs := []string{
		"greeting: Hello\n",
		"a:\n  b:\n    c: deep\n",
		"list:\n  - one\n  - two\n  - three\n",
		"mixed:\n  - name: first\n    value: 1\n  - name: second\n    value: 2\n",
		"types:\n  int: 5\n  float: 1.5\n  bool: true\n  null_value: ~\n  text: hi\n",
		"nested_seq:\n  - - a\n    - b\n  - - c\n",
	}
	for _, src := range docs {
		doc := mustParse(t, src)
		rebuilt, err := Unflatten(Flatten(doc))
		if err != nil {
			t.Errorf("Unflatten error for %q: %v", src, err)
			continue
		}
		if !docnode.Equal(doc, rebuilt) {
			t.Errorf("round trip mismatch for %q", src)
		}
	}
}

func TestUnflatten_KeyOrderPreserved(t *testing.T) {
	doc := mustParse(t, "z: last\na: first\nm: middle\n")
	rebuilt, err := Unflatten(Flatten(doc))
	if err != nil {
		t.Fatalf("Unflatten error: %v", err)
	}
	want := []string{"z", "a", "m"}
	for i, pair := range rebuilt.Pairs {
		if pair.Key != want[i] {
			t.Errorf("key %d = %q, want %q", i, pair.Key, want[i])
		}
	}
}

func TestFlattenUnflatten_ScalarRoot(t *testing.T) {
	doc := mustParse(t, "just a plain sentence\n")
	leaves := Flatten(doc)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	if len(leaves[0].Path) != 0 {
		t.Errorf("scalar root path = %q, want empty", leaves[0].Path)
	}
	if !leaves[0].Translatable {
		t.Error("scalar root should be translatable")
	}

	rebuilt, err := Unflatten(leaves)
	if err != nil {
		t.Fatalf("Unflatten error: %v", err)
	}
	if !docnode.Equal(doc, rebuilt) {
		t.Error("scalar root round trip mismatch")
	}
}

func TestUnflatten_NonContiguousIndex(t *testing.T) {
	_, err := Unflatten([]Leaf{
		{Path: Path{IndexSegment(2)}, Node: docnode.Scalar("x")},
	})
	if err == nil {
		t.Fatal("expected error for non-contiguous index")
	}
}

func TestPath_StringParse(t *testing.T) {
	paths := []Path{
		{KeySegment("a")},
		{KeySegment("a"), KeySegment("b"), KeySegment("c")},
		{KeySegment("a"), IndexSegment(0), KeySegment("b")},
		{IndexSegment(0), IndexSegment(1)},
		{KeySegment("dotted.key"), KeySegment("plain")},
		{KeySegment(`back\slash`), KeySegment("x[0]")},
	}
	for _, p := range paths {
		s := p.String()
		parsed, err := ParsePath(s)
		if err != nil {
			t.Errorf("ParsePath(%q) error: %v", s, err)
			continue
		}
		if parsed.String() != s {
			t.Errorf("ParsePath(%q).String() = %q", s, parsed.String())
		}
		if len(parsed) != len(p) {
			t.Errorf("ParsePath(%q) = %d segments, want %d", s, len(parsed), len(p))
		}
	}
}

// A key containing a literal dot must not collide with a nested path.
func TestPath_DottedKeyUnambiguous(t *testing.T) {
	nested := Path{KeySegment("a"), KeySegment("b")}
	literal := Path{KeySegment("a.b")}
	if nested.String() == literal.String() {
		t.Fatalf("ambiguous encoding: %q", nested.String())
	}
	p, err := ParsePath(literal.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 1 || p[0].Key != "a.b" {
		t.Errorf("got %#v", p)
	}
}

func TestParsePath_Invalid(t *testing.T) {
	for _, s := range []string{"", "a.", ".a", "a[", "a[x]", "a[-1]", `a\`} {
		if _, err := ParsePath(s); err == nil {
			t.Errorf("ParsePath(%q): expected error", s)
		}
	}
}
