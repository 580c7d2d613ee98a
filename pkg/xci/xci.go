// Package xci reads XCI (game card image) containers: the outermost
// format dumped from a Switch game cartridge, holding an HFS0 "root"
// partition whose files are themselves further HFS0 partitions (update,
// normal, logo, secure).
//
// Grounded on original_source/src/formats/xci.rs (XciHeader, trimmed vs.
// "full" detection via the HEAD magic at 0x100 vs 0x1100,
// get_hfs0_offset/list_hfs0_partitions/open_hfs0_partition,
// TitleDataExt::get_cnmts); no analogous reader existed in falk-nsz-go.
package xci

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/ryouvc/nxfs/internal/nxerr"
	"github.com/ryouvc/nxfs/internal/streamio"
	"github.com/ryouvc/nxfs/pkg/cnmt"
	"github.com/ryouvc/nxfs/pkg/hfs0"
	"github.com/ryouvc/nxfs/pkg/keys"
	"github.com/ryouvc/nxfs/pkg/nca"
	"github.com/ryouvc/nxfs/pkg/pfs0"
	"github.com/ryouvc/nxfs/pkg/vfs"
)

var _ vfs.TitleDataSource = (*Reader)(nil)

const mediaSize = 0x200

const headerMagic = "HEAD"

// Header is the parsed XCI card header, following the signature and
// "HEAD" magic.
type Header struct {
	RomAreaOffset          uint32
	BackupAreaOffset       uint32
	TitleKekIndex          uint8
	RomSize                uint8
	GamecardHeaderVersion  uint8
	GamecardFlags          uint8
	PackageID              uint64
	ValidDataEndAddress    uint32
	GamecardFlags2         uint8
	ApplicationIDListCount uint16
	ReversedIV             [0x10]byte
	Hfs0Offset             uint64
	Hfs0HeaderSize         uint64
	Hfs0HeaderHash         [0x20]byte
	InitialDataHash        [0x20]byte
	SelSec                 uint32
	SelT1Key               uint32
	SelKey                 uint32
	LimArea                uint32
}

// Reader is an opened XCI image.
type Reader struct {
	src      *streamio.SharedCursor
	header   Header
	isFull   bool // true if a 0x1000 key area precedes the header
}

// Open detects whether r is a trimmed or "full" XCI dump (full images
// carry a 0x1000-byte key area before the card header) and parses the
// header accordingly.
func Open(r io.ReadSeeker) (*Reader, error) {
	return OpenShared(streamio.NewSharedCursor(r))
}

// OpenShared is like Open but reuses an existing SharedCursor.
func OpenShared(cursor *streamio.SharedCursor) (*Reader, error) {
	var magic [4]byte
	if _, err := cursor.ReadAt(magic[:], 0x100); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "probe XCI header at 0x100")
	}

	isFull := string(magic[:]) != headerMagic
	headerOffset := int64(0)
	if isFull {
		if _, err := cursor.ReadAt(magic[:], 0x1100); err != nil {
			return nil, nxerr.Wrap(nxerr.KindIO, err, "probe XCI header at 0x1100")
		}
		if string(magic[:]) != headerMagic {
			return nil, nxerr.New(nxerr.KindFormat, "no HEAD magic at 0x100 or 0x1100")
		}
		headerOffset = 0x1000
	}

	raw := make([]byte, 0x200)
	if _, err := cursor.ReadAt(raw, headerOffset); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read XCI header")
	}
	if string(raw[0x100:0x104]) != headerMagic {
		return nil, nxerr.New(nxerr.KindFormat, "invalid XCI magic %q", raw[0x100:0x104])
	}

	b := raw[0x104:]
	h := Header{
		RomAreaOffset:          binary.LittleEndian.Uint32(b[0:4]),
		BackupAreaOffset:       binary.LittleEndian.Uint32(b[4:8]),
		TitleKekIndex:          b[8],
		RomSize:                b[9],
		GamecardHeaderVersion:  b[10],
		GamecardFlags:          b[11],
		PackageID:              binary.LittleEndian.Uint64(b[12:20]),
		ValidDataEndAddress:    binary.LittleEndian.Uint32(b[20:24]),
		GamecardFlags2:         b[25],
		ApplicationIDListCount: binary.LittleEndian.Uint16(b[26:28]),
	}
	copy(h.ReversedIV[:], b[28:44])
	h.Hfs0Offset = binary.LittleEndian.Uint64(b[44:52])
	h.Hfs0HeaderSize = binary.LittleEndian.Uint64(b[52:60])
	copy(h.Hfs0HeaderHash[:], b[60:92])
	copy(h.InitialDataHash[:], b[92:124])
	h.SelSec = binary.LittleEndian.Uint32(b[124:128])
	h.SelT1Key = binary.LittleEndian.Uint32(b[128:132])
	h.SelKey = binary.LittleEndian.Uint32(b[132:136])
	h.LimArea = binary.LittleEndian.Uint32(b[136:140])

	return &Reader{src: cursor, header: h, isFull: isFull}, nil
}

// Header returns the parsed card header.
func (r *Reader) Header() Header { return r.header }

// Hfs0Offset returns the absolute byte offset of the root HFS0 partition
// table, accounting for the "full" image's leading key area.
func (r *Reader) Hfs0Offset() int64 {
	off := int64(r.header.Hfs0Offset)
	if r.isFull {
		off += 0x1000
	}
	return off
}

// ListPartitions opens the root HFS0 partition table listing the card's
// named partitions (e.g. "update", "normal", "logo", "secure").
func (r *Reader) ListPartitions() (*hfs0.Reader, error) {
	start := r.Hfs0Offset()
	end := start + int64(r.header.ValidDataEndAddress)*mediaSize
	view := streamio.NewSubStream(r.src, start, end)
	root, err := hfs0.Open(view)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindFormat, err, "open root HFS0 partition table")
	}
	return root, nil
}

// OpenPartition opens a named root-level partition (e.g. "secure") as its
// own HFS0 reader.
func (r *Reader) OpenPartition(name string) (*hfs0.Reader, error) {
	root, err := r.ListPartitions()
	if err != nil {
		return nil, err
	}
	entry, ok := root.Get(name)
	if !ok {
		return nil, nxerr.New(nxerr.KindNotFound, "partition %q not found", name)
	}
	stream, err := root.Open(entry)
	if err != nil {
		return nil, err
	}
	return hfs0.Open(stream)
}

// OpenSecurePartition opens the "secure" partition, which holds the
// title's content NCAs.
func (r *Reader) OpenSecurePartition() (*hfs0.Reader, error) {
	return r.OpenPartition("secure")
}

// CollectCnmts walks the secure partition looking for CNMT data, either
// packed in a ".cnmt.nca" meta content (requiring key material to open)
// or, for unencrypted dumps, a bare ".cnmt" file.
func (r *Reader) CollectCnmts(ks *keys.Keyset, titleKeys *keys.TitleKeys) ([]*cnmt.Cnmt, error) {
	secure, err := r.OpenSecurePartition()
	if err != nil {
		return nil, err
	}

	var out []*cnmt.Cnmt
	for _, entry := range secure.List() {
		switch {
		case strings.HasSuffix(entry.Name, ".cnmt.nca"):
			stream, err := secure.Open(entry)
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
			files, err := pfs0.Open(section)
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
		case strings.HasSuffix(entry.Name, ".cnmt"):
			stream, err := secure.Open(entry)
			if err != nil {
				return nil, err
			}
			c, err := cnmt.Parse(stream)
			if err != nil {
				return nil, nxerr.Wrap(nxerr.KindFormat, err, "parse %s", entry.Name)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// TitleID returns the card package ID, matching the title ID scheme used
// by CNMT headers.
func (r *Reader) TitleID() uint64 { return r.header.PackageID }
