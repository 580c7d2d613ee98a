// Package vfs provides a uniform façade over the container formats'
// individually-typed readers (pfs0.Reader, hfs0.Reader, romfs.Reader), so
// callers that only need to list/fetch/stream entries — cmd/nxfs's
// "inspect"/"extract" commands above all — don't need a format-specific
// switch at every call site.
//
// Grounded on original_source/src/formats/{hfs0.rs,romfs.rs}'s
// VirtualFSExt/FileEntryExt traits, translated from Rust trait objects to
// a small Go interface per spec.md's redesign note. The format packages'
// own Entry types (pfs0.Entry, hfs0.Entry, romfs.FileEntry) stay as-is —
// they carry fields (hash, hierarchy, on-disk offsets) a flat interface
// has no business exposing — and are adapted here rather than folded
// down to the lowest common denominator.
package vfs

import (
	"io"

	"github.com/ryouvc/nxfs/internal/nxerr"
	"github.com/ryouvc/nxfs/pkg/cnmt"
	"github.com/ryouvc/nxfs/pkg/hfs0"
	"github.com/ryouvc/nxfs/pkg/keys"
	"github.com/ryouvc/nxfs/pkg/pfs0"
	"github.com/ryouvc/nxfs/pkg/romfs"
)

// Entry is a container-agnostic directory entry: a name and a size.
type Entry struct {
	Name string
	Size uint64
}

// Container is the common read surface every format-specific reader in
// this module can be adapted to.
type Container interface {
	List() []Entry
	Get(name string) (Entry, bool)
	Open(entry Entry) (io.ReadSeeker, error)
}

// TitleDataSource is implemented by containers that can yield the CNMT
// records describing a title's installed content — XCI's secure
// partition and PFS0-packed NSPs alike.
type TitleDataSource interface {
	CollectCnmts(ks *keys.Keyset, titleKeys *keys.TitleKeys) ([]*cnmt.Cnmt, error)
	TitleID() uint64
}

// NewPFS0Container adapts a pfs0.Reader to Container.
func NewPFS0Container(r *pfs0.Reader) Container { return pfs0Container{r} }

type pfs0Container struct{ r *pfs0.Reader }

func (c pfs0Container) List() []Entry {
	entries := c.r.List()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Name: e.Name, Size: e.DataSize}
	}
	return out
}

func (c pfs0Container) Get(name string) (Entry, bool) {
	e, ok := c.r.Get(name)
	if !ok {
		return Entry{}, false
	}
	return Entry{Name: e.Name, Size: e.DataSize}, true
}

func (c pfs0Container) Open(entry Entry) (io.ReadSeeker, error) {
	e, ok := c.r.Get(entry.Name)
	if !ok {
		return nil, nxerr.New(nxerr.KindNotFound, "entry %q not found", entry.Name)
	}
	return c.r.Open(e)
}

// NewHFS0Container adapts an hfs0.Reader to Container.
func NewHFS0Container(r *hfs0.Reader) Container { return hfs0Container{r} }

type hfs0Container struct{ r *hfs0.Reader }

func (c hfs0Container) List() []Entry {
	entries := c.r.List()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Name: e.Name, Size: e.DataSize}
	}
	return out
}

func (c hfs0Container) Get(name string) (Entry, bool) {
	e, ok := c.r.Get(name)
	if !ok {
		return Entry{}, false
	}
	return Entry{Name: e.Name, Size: e.DataSize}, true
}

func (c hfs0Container) Open(entry Entry) (io.ReadSeeker, error) {
	e, ok := c.r.Get(entry.Name)
	if !ok {
		return nil, nxerr.New(nxerr.KindNotFound, "entry %q not found", entry.Name)
	}
	return c.r.Open(e)
}

// NewRomFSContainer adapts the immediate files of a RomFS directory (the
// root by default) to Container. RomFS is hierarchical; List/Get/Open
// here only ever see dir's direct file children, not subdirectories —
// callers that need to walk the tree use romfs.Reader.ReadDir directly.
func NewRomFSContainer(r *romfs.Reader, dir string) Container {
	return romfsContainer{r: r, dir: dir}
}

type romfsContainer struct {
	r   *romfs.Reader
	dir string
}

func (c romfsContainer) List() []Entry {
	listing, err := c.r.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	out := make([]Entry, len(listing.Files))
	for i, f := range listing.Files {
		out[i] = Entry{Name: f.Name, Size: f.DataSize}
	}
	return out
}

func (c romfsContainer) Get(name string) (Entry, bool) {
	entry, ok, err := c.r.GetFileByPath(c.dir + "/" + name)
	if err != nil || !ok {
		return Entry{}, false
	}
	return Entry{Name: entry.Name, Size: entry.DataSize}, true
}

func (c romfsContainer) Open(entry Entry) (io.ReadSeeker, error) {
	fe, ok, err := c.r.GetFileByPath(c.dir + "/" + entry.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nxerr.New(nxerr.KindNotFound, "entry %q not found", entry.Name)
	}
	return c.r.Open(fe)
}
