// Package romfs reads RomFS images: the read-only filesystem embedded in
// an NCA's RomFS section, storing game asset/code data as a directory and
// file table linked by hash chains rather than a flat name index.
//
// Grounded on original_source/src/formats/romfs.rs (RomFsHeader,
// DirectoryEntry, FileEntry, compute_hash, find_dir_in_parent,
// find_file_in_dir); no analogous reader existed in falk-nsz-go.
package romfs

import (
	"encoding/binary"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/ryouvc/nxfs/internal/nxerr"
	"github.com/ryouvc/nxfs/internal/streamio"
)

// InvalidEntry is the hash-chain / sibling-chain sentinel meaning "no
// further entry".
const InvalidEntry uint32 = 0xFFFFFFFF

// RootDirOffset is the table offset of the root directory entry.
const RootDirOffset uint32 = 0

const headerSize = 0x50

type header struct {
	HeaderSize        uint32
	DirHashTableOff   uint64
	DirHashTableSize  uint32
	DirTableOff       uint64
	DirTableSize      uint32
	FileHashTableOff  uint64
	FileHashTableSize uint32
	FileTableOff      uint64
	FileTableSize     uint32
	FileDataOff       uint64
}

// DirEntry is one directory table record.
type DirEntry struct {
	ParentOffset      uint32
	SiblingOffset     uint32
	ChildDirOffset    uint32
	ChildFileOffset   uint32
	HashSiblingOffset uint32
	Name              string
}

// FileEntry is one file table record.
type FileEntry struct {
	ParentOffset      uint32
	SiblingOffset     uint32
	DataOffset        uint64
	DataSize          uint64
	HashSiblingOffset uint32
	Name              string
}

// Reader parses and navigates a RomFS image.
type Reader struct {
	src    *streamio.SharedCursor
	hdr    header
	dirHT  []uint32
	fileHT []uint32

	mu        sync.Mutex
	dirCache  map[uint32]DirEntry
	fileCache map[uint32]FileEntry
}

// Open parses the RomFS header and hash tables at the start of r.
func Open(r io.ReadSeeker) (*Reader, error) {
	return OpenShared(streamio.NewSharedCursor(r))
}

// OpenShared is like Open but reuses an existing SharedCursor.
func OpenShared(cursor *streamio.SharedCursor) (*Reader, error) {
	var raw [headerSize]byte
	if _, err := cursor.ReadAt(raw[:], 0); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read RomFS header")
	}

	h := header{
		HeaderSize:        binary.LittleEndian.Uint32(raw[0:4]),
		DirHashTableOff:   binary.LittleEndian.Uint64(raw[4:12]),
		DirHashTableSize:  binary.LittleEndian.Uint32(raw[12:16]),
		DirTableOff:       binary.LittleEndian.Uint64(raw[16:24]),
		DirTableSize:      binary.LittleEndian.Uint32(raw[24:28]),
		FileHashTableOff:  binary.LittleEndian.Uint64(raw[28:36]),
		FileHashTableSize: binary.LittleEndian.Uint32(raw[36:40]),
		FileTableOff:      binary.LittleEndian.Uint64(raw[40:48]),
		FileTableSize:     binary.LittleEndian.Uint32(raw[48:52]),
		FileDataOff:       binary.LittleEndian.Uint64(raw[52:60]),
	}

	if h.HeaderSize == 0 {
		return nil, nxerr.New(nxerr.KindFormat, "invalid RomFS header size 0")
	}
	if h.DirHashTableOff == 0 {
		return nil, nxerr.New(nxerr.KindFormat, "dir hash table offset is 0")
	}
	if h.FileHashTableOff == 0 {
		return nil, nxerr.New(nxerr.KindFormat, "file hash table offset is 0")
	}

	dirHT, err := readU32Table(cursor, int64(h.DirHashTableOff), int(h.DirHashTableSize)/4)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read dir hash table")
	}
	fileHT, err := readU32Table(cursor, int64(h.FileHashTableOff), int(h.FileHashTableSize)/4)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read file hash table")
	}

	return &Reader{
		src:       cursor,
		hdr:       h,
		dirHT:     dirHT,
		fileHT:    fileHT,
		dirCache:  make(map[uint32]DirEntry),
		fileCache: make(map[uint32]FileEntry),
	}, nil
}

func readU32Table(cursor *streamio.SharedCursor, offset int64, count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}
	raw := make([]byte, count*4)
	if _, err := cursor.ReadAt(raw, offset); err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return out, nil
}

// computeHash implements RomFS's custom name hash: rotate the running hash
// right by 5 bits and XOR in each name byte, seeded with parent^123456789.
func computeHash(parent uint32, name []byte, tableLen int) uint32 {
	hash := parent ^ 123456789
	for _, b := range name {
		hash = (hash >> 5) | (hash << (32 - 5))
		hash ^= uint32(b)
	}
	return hash % uint32(tableLen)
}

func (r *Reader) readDirEntry(offset uint32) (DirEntry, error) {
	r.mu.Lock()
	if e, ok := r.dirCache[offset]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	base := int64(r.hdr.DirTableOff) + int64(offset)
	var fixed [24]byte
	if _, err := r.src.ReadAt(fixed[:], base); err != nil {
		return DirEntry{}, nxerr.Wrap(nxerr.KindIO, err, "read dir entry fixed fields")
	}
	nameSize := binary.LittleEndian.Uint32(fixed[20:24])
	nameBytes := make([]byte, nameSize)
	if nameSize > 0 {
		if _, err := r.src.ReadAt(nameBytes, base+24); err != nil {
			return DirEntry{}, nxerr.Wrap(nxerr.KindIO, err, "read dir entry name")
		}
	}

	e := DirEntry{
		ParentOffset:      binary.LittleEndian.Uint32(fixed[0:4]),
		SiblingOffset:     binary.LittleEndian.Uint32(fixed[4:8]),
		ChildDirOffset:    binary.LittleEndian.Uint32(fixed[8:12]),
		ChildFileOffset:   binary.LittleEndian.Uint32(fixed[12:16]),
		HashSiblingOffset: binary.LittleEndian.Uint32(fixed[16:20]),
		Name:              string(nameBytes),
	}
	r.mu.Lock()
	r.dirCache[offset] = e
	r.mu.Unlock()
	return e, nil
}

func (r *Reader) readFileEntry(offset uint32) (FileEntry, error) {
	r.mu.Lock()
	if e, ok := r.fileCache[offset]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	base := int64(r.hdr.FileTableOff) + int64(offset)
	var fixed [32]byte
	if _, err := r.src.ReadAt(fixed[:], base); err != nil {
		return FileEntry{}, nxerr.Wrap(nxerr.KindIO, err, "read file entry fixed fields")
	}
	nameSize := binary.LittleEndian.Uint32(fixed[28:32])
	nameBytes := make([]byte, nameSize)
	if nameSize > 0 {
		if _, err := r.src.ReadAt(nameBytes, base+32); err != nil {
			return FileEntry{}, nxerr.Wrap(nxerr.KindIO, err, "read file entry name")
		}
	}

	e := FileEntry{
		ParentOffset:      binary.LittleEndian.Uint32(fixed[0:4]),
		SiblingOffset:     binary.LittleEndian.Uint32(fixed[4:8]),
		DataOffset:        binary.LittleEndian.Uint64(fixed[8:16]),
		DataSize:          binary.LittleEndian.Uint64(fixed[16:24]),
		HashSiblingOffset: binary.LittleEndian.Uint32(fixed[24:28]),
		Name:              string(nameBytes),
	}
	r.mu.Lock()
	r.fileCache[offset] = e
	r.mu.Unlock()
	return e, nil
}

func (r *Reader) findDirInParent(parent uint32, name string) (uint32, error) {
	hash := computeHash(parent, []byte(name), len(r.dirHT))
	offset := r.dirHT[hash]
	for offset != InvalidEntry {
		entry, err := r.readDirEntry(offset)
		if err != nil {
			return 0, err
		}
		if entry.ParentOffset == parent && entry.Name == name {
			return offset, nil
		}
		offset = entry.HashSiblingOffset
	}
	return 0, nxerr.New(nxerr.KindNotFound, "directory %q not found", name)
}

func (r *Reader) findFileInDir(parent uint32, name string) (FileEntry, error) {
	hash := computeHash(parent, []byte(name), len(r.fileHT))
	offset := r.fileHT[hash]
	for offset != InvalidEntry {
		entry, err := r.readFileEntry(offset)
		if err != nil {
			return FileEntry{}, err
		}
		if entry.ParentOffset == parent && entry.Name == name {
			return entry, nil
		}
		offset = entry.HashSiblingOffset
	}
	return FileEntry{}, nxerr.New(nxerr.KindNotFound, "file %q not found", name)
}

// FindDir resolves a '/'-separated directory path to its table offset,
// starting from the root.
func (r *Reader) FindDir(p string) (uint32, error) {
	current := RootDirOffset
	for _, part := range strings.Split(path.Clean("/"+p), "/") {
		if part == "" {
			continue
		}
		next, err := r.findDirInParent(current, part)
		if err != nil {
			return 0, nxerr.Wrap(nxerr.KindNotFound, err, "resolve path %q", p)
		}
		current = next
	}
	return current, nil
}

// GetFileByPath resolves a '/'-separated file path, returning false if any
// path component is missing.
func (r *Reader) GetFileByPath(p string) (FileEntry, bool, error) {
	dir, file := path.Split(p)
	parentOffset, err := r.FindDir(dir)
	if err != nil {
		return FileEntry{}, false, nil
	}
	entry, err := r.findFileInDir(parentOffset, file)
	if err != nil {
		return FileEntry{}, false, nil
	}
	return entry, true, nil
}

// Open returns a bounded stream over a file entry's data within the RomFS
// image.
func (r *Reader) Open(entry FileEntry) (io.ReadSeeker, error) {
	start := int64(r.hdr.FileDataOff) + int64(entry.DataOffset)
	end := start + int64(entry.DataSize)
	return streamio.NewSubStream(r.src, start, end), nil
}

// Listing names one directory's immediate children.
type Listing struct {
	Dirs  []string
	Files []FileEntry
}

// ReadDir lists the immediate children of the directory at path p.
func (r *Reader) ReadDir(p string) (Listing, error) {
	dirOffset, err := r.FindDir(p)
	if err != nil {
		return Listing{}, err
	}
	dirEntry, err := r.readDirEntry(dirOffset)
	if err != nil {
		return Listing{}, err
	}

	var out Listing
	for child := dirEntry.ChildDirOffset; child != InvalidEntry; {
		entry, err := r.readDirEntry(child)
		if err != nil {
			return Listing{}, err
		}
		out.Dirs = append(out.Dirs, entry.Name)
		child = entry.SiblingOffset
	}
	for child := dirEntry.ChildFileOffset; child != InvalidEntry; {
		entry, err := r.readFileEntry(child)
		if err != nil {
			return Listing{}, err
		}
		out.Files = append(out.Files, entry)
		child = entry.SiblingOffset
	}
	return out, nil
}
