// Package progress persists the state of a translation run so an
// interrupted run resumes without re-sending leaves that were already
// paid for.
//
// Two files are written on every checkpoint:
//
//   - the running output document (same shape as the input, with whatever
//     has been translated so far substituted in), and
//   - a status side file (<output>.progress) recording per-leaf status and
//     an MD5 checksum of the source document.
//
// Both writes are atomic (write to a temporary file in the same directory,
// then rename), so a crash mid-checkpoint never corrupts the previously
// checkpointed state. A checksum mismatch on load means the source changed
// since the interrupted run and the old progress is discarded.
package progress

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/flatten"
)

// Status of one leaf within a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// statusFileVersion is the side-file format version.
const statusFileVersion = 1

// Suffix appended to the output path to form the status side file.
const Suffix = ".progress"

// entry is one leaf's state. Value holds the current output scalar —
// the original until a translation lands, the translated text after.
type entry struct {
	leaf   flatten.Leaf
	status Status
}

// Store is the single piece of shared mutable state in a run. All
// mutation is serialized through its mutex; concurrent batch completions
// linearize here so every checkpoint is internally consistent.
type Store struct {
	mu sync.Mutex

	outPath  string
	checksum string
	language string

	entries []entry
	index   map[string]int // serialized path -> entries index
}

// statusFile is the on-disk shape of the side file.
type statusFile struct {
	Version  int               `yaml:"version"`
	Checksum string            `yaml:"checksum"`
	Language string            `yaml:"language"`
	Statuses map[string]Status `yaml:"statuses"`
}

// SourceChecksum computes the checksum that ties a progress file to one
// exact source document.
func SourceChecksum(source []byte) string {
	return fmt.Sprintf("%x", md5.Sum(source))
}

// New builds a store for one run, seeded with every leaf of the document.
// Pass-through leaves are recorded done immediately (their final value is
// the original); translatable leaves start pending.
func New(outPath, language string, checksum string, leaves []flatten.Leaf) *Store {
	s := &Store{
		outPath:  outPath,
		checksum: checksum,
		language: language,
		index:    make(map[string]int, len(leaves)),
	}
	for _, leaf := range leaves {
		st := StatusDone
		if leaf.Translatable {
			st = StatusPending
		}
		s.index[leaf.Path.String()] = len(s.entries)
		s.entries = append(s.entries, entry{leaf: leaf, status: st})
	}
	return s
}

// Resume merges a prior run's checkpoint into the store, if one exists
// and belongs to the same source and language. Leaves recorded done get
// their checkpointed value and are skipped by the dispatcher; failed
// leaves are retried unless keepFailed is set.
//
// Returns the number of leaves restored.
func (s *Store) Resume(keepFailed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.outPath + Suffix)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", s.outPath+Suffix, err)
	}
	var sf statusFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", s.outPath+Suffix, err)
	}
	if sf.Version != statusFileVersion || sf.Checksum != s.checksum || sf.Language != s.language {
		// Different source, language or format: start over.
		return 0, nil
	}

	prior, err := docnode.ParseFile(s.outPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("loading prior output: %w", err)
	}
	priorLeaves := make(map[string]*docnode.Node)
	for _, leaf := range flatten.Flatten(prior) {
		priorLeaves[leaf.Path.String()] = leaf.Node
	}

	restored := 0
	for i := range s.entries {
		e := &s.entries[i]
		if !e.leaf.Translatable {
			continue
		}
		key := e.leaf.Path.String()
		st, ok := sf.Statuses[key]
		if !ok {
			continue
		}
		switch st {
		case StatusDone:
			if node, ok := priorLeaves[key]; ok {
				e.leaf.Node = node
				e.status = StatusDone
				restored++
			}
		case StatusFailed:
			if keepFailed {
				e.status = StatusFailed
				restored++
			}
		}
	}
	return restored, nil
}

// Pending returns, in document order, the translatable leaves the
// dispatcher still has to handle.
func (s *Store) Pending() []flatten.Leaf {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []flatten.Leaf
	for _, e := range s.entries {
		if e.leaf.Translatable && e.status == StatusPending {
			pending = append(pending, e.leaf)
		}
	}
	return pending
}

// Record finalizes one leaf: the translated value with StatusDone, or the
// original value with StatusFailed. It mutates in-memory state only;
// durability comes from the next Checkpoint.
func (s *Store) Record(p flatten.Path, value string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[p.String()]
	if !ok {
		return
	}
	e := &s.entries[i]
	if status == StatusDone {
		// Replace the scalar, keeping the original's type tag and style.
		updated := *e.leaf.Node
		updated.Value = value
		e.leaf.Node = &updated
	}
	e.status = status
}

// Counts returns (done, failed, pending) across translatable leaves.
func (s *Store) Counts() (done, failed, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if !e.leaf.Translatable {
			continue
		}
		switch e.status {
		case StatusDone:
			done++
		case StatusFailed:
			failed++
		default:
			pending++
		}
	}
	return
}

// Document rebuilds the full output tree from the current leaf values.
// Failed and pending leaves contribute their original values, so the
// result always has the input's exact shape.
func (s *Store) Document() (*docnode.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document()
}

func (s *Store) document() (*docnode.Node, error) {
	leaves := make([]flatten.Leaf, len(s.entries))
	for i, e := range s.entries {
		leaves[i] = e.leaf
	}
	return flatten.Unflatten(leaves)
}

// Checkpoint durably persists the current state: the rebuilt output
// document and the status side file, each written atomically.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.document()
	if err != nil {
		return fmt.Errorf("rebuilding output document: %w", err)
	}
	docData, err := docnode.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling output document: %w", err)
	}

	sf := statusFile{
		Version:  statusFileVersion,
		Checksum: s.checksum,
		Language: s.language,
		Statuses: make(map[string]Status),
	}
	for _, e := range s.entries {
		if e.leaf.Translatable {
			sf.Statuses[e.leaf.Path.String()] = e.status
		}
	}
	sfData, err := yaml.Marshal(&sf)
	if err != nil {
		return fmt.Errorf("marshaling status file: %w", err)
	}

	if err := atomicWrite(s.outPath, docData); err != nil {
		return err
	}
	return atomicWrite(s.outPath+Suffix, sfData)
}

// Clear removes the status side file after a fully successful run.
// The output document stays.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.outPath + Suffix)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", s.outPath+Suffix, err)
	}
	return nil
}

// OutputPath returns the output document path.
func (s *Store) OutputPath() string {
	return s.outPath
}

// atomicWrite writes data to path via a temporary file in the same
// directory and a rename, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
