// Package archive is the boundary to firmware file systems: an in-memory
// set of files that can be patched and serialised into a partition.
package archive

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fwemu/tools/internal/fat"
	"github.com/fwemu/tools/internal/fault"
)

// Entry is one file. Entries are values: WithContents returns a new entry
// and never modifies the receiver's buffer.
type Entry struct {
	Path    string
	Mode    fs.FileMode
	ModTime time.Time

	contents []byte
}

// NewEntry returns a regular file entry holding a copy of contents.
func NewEntry(p string, contents []byte) Entry {
	return Entry{
		Path:     clean(p),
		Mode:     0775,
		ModTime:  epoch,
		contents: bytes.Clone(contents),
	}
}

func (e Entry) Contents() []byte { return bytes.Clone(e.contents) }

func (e Entry) Size() int { return len(e.contents) }

// WithContents returns a copy of e holding contents.
func (e Entry) WithContents(contents []byte) Entry {
	e.contents = bytes.Clone(contents)
	return e
}

// epoch is the earliest FAT timestamp, used for entries without one so that
// serialised file systems are reproducible.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

func clean(p string) string {
	return path.Clean("/" + p)
}

// Archive maps absolute slash-separated paths to entries.
type Archive struct {
	entries map[string]Entry
}

func New(entries ...Entry) *Archive {
	a := &Archive{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		e.Path = clean(e.Path)
		a.entries[e.Path] = e
	}
	return a
}

// ReadDir loads all regular files below dir.
func ReadDir(dir string) (*Archive, error) {
	a := New()
	err := filepath.WalkDir(dir, func(fn string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, fn)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := NewEntry(filepath.ToSlash(rel), b)
		e.Mode = info.Mode().Perm()
		e.ModTime = info.ModTime()
		a.entries[e.Path] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) Read(p string) ([]byte, error) {
	e, ok := a.entries[clean(p)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", clean(p), fs.ErrNotExist)
	}
	return e.Contents(), nil
}

// Write replaces the contents of p, creating the entry if needed.
func (a *Archive) Write(p string, contents []byte) {
	p = clean(p)
	e, ok := a.entries[p]
	if !ok {
		e = NewEntry(p, nil)
	}
	a.entries[p] = e.WithContents(contents)
}

// Patch replaces the contents of p with fn applied to them.
func (a *Archive) Patch(p string, fn func([]byte) ([]byte, error)) error {
	b, err := a.Read(p)
	if err != nil {
		return err
	}
	b, err = fn(b)
	if err != nil {
		return fmt.Errorf("patching %s: %w", clean(p), err)
	}
	a.Write(p, b)
	return nil
}

// Paths returns all entry paths in sorted order.
func (a *Archive) Paths() []string {
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WriteFAT serialises the archive into a FAT file system image of exactly
// size bytes.
func (a *Archive) WriteFAT(size int) ([]byte, error) {
	var buf bytes.Buffer
	fw := fat.NewWriter(&buf)
	for _, p := range a.Paths() {
		e := a.entries[p]
		w, err := fw.File(p, e.ModTime)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if _, err := w.Write(e.contents); err != nil {
			return nil, err
		}
	}
	if err := fw.Flush(); err != nil {
		return nil, err
	}
	// the boot sector describes at least 4085 clusters, even if fewer hold data
	need := max(buf.Len(), fw.TotalSectors*512)
	if need > size {
		return nil, &fault.CapacityExceeded{Region: "FAT file system", Size: need, Limit: size}
	}
	img := make([]byte, size)
	copy(img, buf.Bytes())
	return img, nil
}

func (a *Archive) String() string {
	return "archive[" + strings.Join(a.Paths(), " ") + "]"
}
