// Package pfs0 reads PFS0 ("partition filesystem") containers: the flat,
// unhashed archive format used for NSP packages and for the filesystem
// embedded in most NCA sections.
//
// Grounded on falk-nsz-go's pkg/fs/pfs0.go, generalized from *os.File to
// any io.ReadSeeker so it composes with NCA section streams and XCI
// partitions instead of only plain files.
package pfs0

import (
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/ryouvc/nxfs/internal/nxerr"
	"github.com/ryouvc/nxfs/internal/streamio"
	"github.com/ryouvc/nxfs/pkg/cnmt"
	"github.com/ryouvc/nxfs/pkg/keys"
	"github.com/ryouvc/nxfs/pkg/nca"
)

const magic = "PFS0"

// Entry describes one file packed into a PFS0 container.
type Entry struct {
	Name       string
	DataOffset uint64
	DataSize   uint64
}

// Reader provides List/Get/Open access to a PFS0 container's files.
type Reader struct {
	src        *streamio.SharedCursor
	entries    []Entry
	byName     map[string]int
	dataBase   int64
}

// Open parses the PFS0 header at the start of r and returns a Reader for
// its files. r is read through a SharedCursor, so r itself should not be
// used concurrently afterward.
func Open(r io.ReadSeeker) (*Reader, error) {
	cursor := streamio.NewSharedCursor(r)
	return OpenShared(cursor)
}

// OpenShared is like Open but reuses an existing SharedCursor, letting
// multiple containers share one underlying file handle.
func OpenShared(cursor *streamio.SharedCursor) (*Reader, error) {
	var hdr [16]byte
	if _, err := cursor.ReadAt(hdr[:], 0); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read PFS0 header")
	}
	if string(hdr[0:4]) != magic {
		return nil, nxerr.New(nxerr.KindFormat, "invalid PFS0 magic %q", hdr[0:4])
	}
	numFiles := binary.LittleEndian.Uint32(hdr[4:8])
	stringTableSize := binary.LittleEndian.Uint32(hdr[8:12])

	entryTableSize := int(numFiles) * 24
	rest := make([]byte, entryTableSize+int(stringTableSize))
	if _, err := cursor.ReadAt(rest, 16); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read PFS0 entry table")
	}
	entryBytes := rest[:entryTableSize]
	stringTable := rest[entryTableSize:]

	entries := make([]Entry, numFiles)
	byName := make(map[string]int, numFiles)
	for i := 0; i < int(numFiles); i++ {
		eb := entryBytes[i*24 : i*24+24]
		dataOffset := binary.LittleEndian.Uint64(eb[0:8])
		dataSize := binary.LittleEndian.Uint64(eb[8:16])
		nameOffset := binary.LittleEndian.Uint32(eb[16:20])

		name, err := readName(stringTable, nameOffset)
		if err != nil {
			return nil, err
		}
		entries[i] = Entry{Name: name, DataOffset: dataOffset, DataSize: dataSize}
		byName[name] = i
	}

	dataBase := int64(16 + entryTableSize + int(stringTableSize))
	return &Reader{src: cursor, entries: entries, byName: byName, dataBase: dataBase}, nil
}

func readName(table []byte, offset uint32) (string, error) {
	if offset >= uint32(len(table)) {
		return "", nxerr.New(nxerr.KindFormat, "PFS0 name offset %d out of bounds", offset)
	}
	end := offset
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[offset:end]), nil
}

// List returns every file entry in container order.
func (r *Reader) List() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get looks up a file entry by exact name.
func (r *Reader) Get(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Open returns a bounded, independently-seekable stream over entry's data.
func (r *Reader) Open(entry Entry) (io.ReadSeeker, error) {
	start := r.dataBase + int64(entry.DataOffset)
	end := start + int64(entry.DataSize)
	return streamio.NewSubStream(r.src, start, end), nil
}

// CollectCnmts walks the archive's ".cnmt.nca" meta contents and parses
// the CNMT packed inside each, matching NSP packages (which are plain
// PFS0 images at the top level) to XCI's secure-partition equivalent.
func (r *Reader) CollectCnmts(ks *keys.Keyset, titleKeys *keys.TitleKeys) ([]*cnmt.Cnmt, error) {
	var out []*cnmt.Cnmt
	for _, entry := range r.entries {
		if !strings.HasSuffix(entry.Name, ".cnmt.nca") {
			continue
		}
		stream, err := r.Open(entry)
		if err != nil {
			return nil, err
		}
		metaNca, err := nca.Open(stream, ks, titleKeys)
		if err != nil {
			return nil, nxerr.Wrap(nxerr.KindFormat, err, "open meta NCA %s", entry.Name)
		}
		section, err := metaNca.OpenSection(0)
		if err != nil {
			return nil, nxerr.Wrap(nxerr.KindFormat, err, "open meta NCA section 0")
		}
		files, err := Open(section)
		if err != nil {
			return nil, nxerr.Wrap(nxerr.KindFormat, err, "open meta NCA PFS0")
		}
		for _, fileEntry := range files.List() {
			if !strings.HasSuffix(fileEntry.Name, ".cnmt") {
				continue
			}
			fs, err := files.Open(fileEntry)
			if err != nil {
				return nil, err
			}
			c, err := cnmt.Parse(fs)
			if err != nil {
				return nil, nxerr.Wrap(nxerr.KindFormat, err, "parse %s", fileEntry.Name)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// TitleID returns the program ID encoded in the first ".cnmt.nca" entry's
// filename (the first 16 hex characters), matching how NSPs name their
// meta content.
func (r *Reader) TitleID() uint64 {
	for _, entry := range r.entries {
		if !strings.HasSuffix(entry.Name, ".cnmt.nca") {
			continue
		}
		id, err := strconv.ParseUint(entry.Name[:16], 16, 64)
		if err != nil {
			return 0
		}
		return id
	}
	return 0
}
