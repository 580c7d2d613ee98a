// Package cnmt parses Content Meta (CNMT) files: the table of contents
// embedded in a title's meta NCA describing which content NCAs make up the
// title, its dependencies, and (for applications/patches/add-ons) a
// type-specific extended header.
//
// Grounded on nx-archive's formats/cnmt/{mod,enums,extended_header}.rs.
package cnmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ryouvc/nxfs/internal/nxerr"
)

// MetaType identifies what kind of title a CNMT describes.
type MetaType uint8

const (
	MetaTypeInvalid              MetaType = 0x00
	MetaTypeSystemProgram        MetaType = 0x01
	MetaTypeSystemData           MetaType = 0x02
	MetaTypeSystemUpdate         MetaType = 0x03
	MetaTypeBootImagePackage     MetaType = 0x04
	MetaTypeBootImagePackageSafe MetaType = 0x05
	MetaTypeApplication          MetaType = 0x80
	MetaTypePatch                MetaType = 0x81
	MetaTypeAddOnContent         MetaType = 0x82
	MetaTypeDelta                MetaType = 0x83
	MetaTypeDataPatch            MetaType = 0x84
)

// ContentType identifies the role of a single packaged content entry.
type ContentType uint8

const (
	ContentTypeMeta          ContentType = 0
	ContentTypeProgram       ContentType = 1
	ContentTypeData          ContentType = 2
	ContentTypeControl       ContentType = 3
	ContentTypeHTMLDocument  ContentType = 4
	ContentTypeLegalInfo     ContentType = 5
	ContentTypeDeltaFragment ContentType = 6
)

// Header is the fixed 0x20-byte CNMT header.
type Header struct {
	TitleID                uint64
	TitleVersion            uint32
	MetaType                MetaType
	MetaPlatform            uint8
	ExtendedHeaderSize      uint16
	TotalContentEntries     uint16
	TotalContentMetaEntries uint16
	Attributes              uint8
	StorageID               uint8
	ContentInstallType      uint8
	Reserved1               uint8
	RequiredDLSystemVersion uint32
	Reserved2               uint32
}

const headerSize = 0x20

// ApplicationExtendedHeader is present when Header.MetaType ==
// MetaTypeApplication.
type ApplicationExtendedHeader struct {
	PatchID                   uint64
	RequiredSystemVersion     uint32
	RequiredApplicationVersion uint32
}

// PatchExtendedHeader is present when Header.MetaType == MetaTypePatch.
type PatchExtendedHeader struct {
	ApplicationID         uint64
	RequiredSystemVersion uint32
	ExtendedDataSize      uint32
	Reserved              uint64
}

// AddOnExtendedHeader is present when Header.MetaType ==
// MetaTypeAddOnContent.
type AddOnExtendedHeader struct {
	ApplicationID              uint64
	RequiredApplicationVersion uint32
	ContentAccessibilities     uint8
	Reserved                   [3]byte
	DataPatchID                uint64
}

// DeltaExtendedHeader is present when Header.MetaType == MetaTypeDelta.
type DeltaExtendedHeader struct {
	ApplicationID    uint64
	ExtendedDataSize uint32
	Reserved         uint32
}

// SystemUpdateExtendedHeader is present when Header.MetaType ==
// MetaTypeSystemUpdate.
type SystemUpdateExtendedHeader struct {
	ExtendedDataSize uint32
}

// DataPatchExtendedHeader is present when Header.MetaType ==
// MetaTypeDataPatch, same shape as PatchExtendedHeader but naming the
// application it patches data for rather than its own application ID.
type DataPatchExtendedHeader struct {
	ApplicationID              uint64
	RequiredApplicationVersion uint32
	ExtendedDataSize           uint32
	Reserved                   uint64
}

// ExtendedHeader carries whichever typed header Header.MetaType selected,
// or raw bytes for types the format doesn't give special meaning to.
type ExtendedHeader struct {
	Application  *ApplicationExtendedHeader
	Patch        *PatchExtendedHeader
	AddOn        *AddOnExtendedHeader
	Delta        *DeltaExtendedHeader
	SystemUpdate *SystemUpdateExtendedHeader
	DataPatch    *DataPatchExtendedHeader
	Raw          []byte
}

// ContentInfo describes one packaged content file (its ID, size, and
// role).
type ContentInfo struct {
	ContentID   [16]byte
	Size        uint64 // 48-bit on the wire
	ContentType ContentType
	IDOffset    uint8
}

// ContentEntry pairs a ContentInfo with the SHA-256 hash of that content.
type ContentEntry struct {
	Hash [32]byte
	Info ContentInfo
}

// MetaEntry references a dependent title by ID and version.
type MetaEntry struct {
	TitleID  uint64
	Version  uint32
	MetaType uint8
	Attributes uint8
}

// Cnmt is a fully parsed Content Meta file.
type Cnmt struct {
	Header         Header
	ExtendedHeader ExtendedHeader
	ContentEntries []ContentEntry
	MetaEntries    []MetaEntry
}

// Parse reads a Cnmt from r, dispatching the extended header by meta type
// and then seeking to the header-declared extended-header-size boundary
// before reading content/meta entries, per spec.
func Parse(r io.ReadSeeker) (*Cnmt, error) {
	var raw [headerSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read CNMT header")
	}

	var h Header
	br := bytes.NewReader(raw[:])
	fields := []any{
		&h.TitleID, &h.TitleVersion, &h.MetaType, &h.MetaPlatform,
		&h.ExtendedHeaderSize, &h.TotalContentEntries, &h.TotalContentMetaEntries,
		&h.Attributes, &h.StorageID, &h.ContentInstallType, &h.Reserved1,
		&h.RequiredDLSystemVersion, &h.Reserved2,
	}
	for _, f := range fields {
		if err := binary.Read(br, binary.LittleEndian, f); err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse CNMT header field")
		}
	}

	ext, err := parseExtendedHeader(r, h)
	if err != nil {
		return nil, err
	}

	if _, err := r.Seek(int64(headerSize)+int64(h.ExtendedHeaderSize), io.SeekStart); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "seek to content entries")
	}

	entries := make([]ContentEntry, 0, h.TotalContentEntries)
	for i := 0; i < int(h.TotalContentEntries); i++ {
		e, err := readContentEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	metas := make([]MetaEntry, 0, h.TotalContentMetaEntries)
	for i := 0; i < int(h.TotalContentMetaEntries); i++ {
		var m MetaEntry
		var pad [2]byte
		if err := binary.Read(r, binary.LittleEndian, &m.TitleID); err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse meta entry title id")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse meta entry version")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.MetaType); err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse meta entry type")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.Attributes); err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse meta entry attributes")
		}
		if _, err := io.ReadFull(r, pad[:]); err != nil {
			return nil, nxerr.Wrap(nxerr.KindIO, err, "read meta entry padding")
		}
		metas = append(metas, m)
	}

	return &Cnmt{Header: h, ExtendedHeader: ext, ContentEntries: entries, MetaEntries: metas}, nil
}

func parseExtendedHeader(r io.Reader, h Header) (ExtendedHeader, error) {
	switch h.MetaType {
	case MetaTypeApplication:
		var eh ApplicationExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse application extended header")
		}
		return ExtendedHeader{Application: &eh}, nil
	case MetaTypePatch:
		var eh PatchExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse patch extended header")
		}
		return ExtendedHeader{Patch: &eh}, nil
	case MetaTypeAddOnContent:
		var eh AddOnExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse add-on extended header")
		}
		return ExtendedHeader{AddOn: &eh}, nil
	case MetaTypeDelta:
		var eh DeltaExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse delta extended header")
		}
		return ExtendedHeader{Delta: &eh}, nil
	case MetaTypeSystemUpdate:
		var eh SystemUpdateExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse system update extended header")
		}
		return ExtendedHeader{SystemUpdate: &eh}, nil
	case MetaTypeDataPatch:
		var eh DataPatchExtendedHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindParse, err, "parse data patch extended header")
		}
		return ExtendedHeader{DataPatch: &eh}, nil
	default:
		raw := make([]byte, h.ExtendedHeaderSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return ExtendedHeader{}, nxerr.Wrap(nxerr.KindIO, err, "read unknown extended header")
		}
		return ExtendedHeader{Raw: raw}, nil
	}
}

// readContentEntry decodes one 0x38-byte PackagedContent record: a
// 32-byte hash followed by a PackagedContentInfo whose size field is a
// 48-bit little-endian integer, not a standard 32/64-bit one.
func readContentEntry(r io.Reader) (ContentEntry, error) {
	var e ContentEntry
	if _, err := io.ReadFull(r, e.Hash[:]); err != nil {
		return e, nxerr.Wrap(nxerr.KindIO, err, "read content entry hash")
	}
	if _, err := io.ReadFull(r, e.Info.ContentID[:]); err != nil {
		return e, nxerr.Wrap(nxerr.KindIO, err, "read content id")
	}

	var sizeBytes [6]byte
	if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
		return e, nxerr.Wrap(nxerr.KindIO, err, "read content size")
	}
	e.Info.Size = uint64(sizeBytes[0]) | uint64(sizeBytes[1])<<8 | uint64(sizeBytes[2])<<16 |
		uint64(sizeBytes[3])<<24 | uint64(sizeBytes[4])<<32 | uint64(sizeBytes[5])<<40

	var ct uint8
	if err := binary.Read(r, binary.LittleEndian, &ct); err != nil {
		return e, nxerr.Wrap(nxerr.KindParse, err, "read content type")
	}
	e.Info.ContentType = ContentType(ct)

	if err := binary.Read(r, binary.LittleEndian, &e.Info.IDOffset); err != nil {
		return e, nxerr.Wrap(nxerr.KindParse, err, "read id offset")
	}
	return e, nil
}

// TitleIDString renders the title ID the way Switch tooling names CNMT
// files: 16 uppercase hex digits, big-endian.
func (c *Cnmt) TitleIDString() string {
	return fmt.Sprintf("%016X", c.Header.TitleID)
}

// ContentEntryByType returns the first content entry of the given type, if
// any.
func (c *Cnmt) ContentEntryByType(t ContentType) (ContentEntry, bool) {
	for _, e := range c.ContentEntries {
		if e.Info.ContentType == t {
			return e, true
		}
	}
	return ContentEntry{}, false
}

// MainContentID returns the content ID of the Program entry, the NCA that
// holds the title's executable code, if present.
func (c *Cnmt) MainContentID() ([16]byte, bool) {
	e, ok := c.ContentEntryByType(ContentTypeProgram)
	if !ok {
		return [16]byte{}, false
	}
	return e.Info.ContentID, true
}
