// Package nca reads NCA (Nintendo Content Archive) containers: the
// innermost format holding a title's actual filesystem data, AES-XTS
// encrypted at the header and AES-CTR encrypted per-section.
//
// Grounded on falk-nsz-go's pkg/fs/{nca.go,nca_header.go} for structure
// and the overall header-then-sections flow, and on
// original_source/src/formats/nca.rs (HashData::IntegrityMeta /
// HierarchicalIntegrityLevel) for the hash-data variant the teacher never
// modeled, and original_source/src/formats/nca/types.rs for the opaque
// patch_info/sparse_info/compression_info trailer layout.
package nca

import (
	"encoding/binary"
	"io"

	"github.com/ryouvc/nxfs/internal/cryptoutil"
	"github.com/ryouvc/nxfs/internal/nxerr"
	"github.com/ryouvc/nxfs/internal/streamio"
	"github.com/ryouvc/nxfs/pkg/keys"
)

const (
	headerStructSize = 0xC00
	mediaUnitSize    = 0x200
	magicNCA3        = "NCA3"
)

// ContentType identifies what kind of data an NCA carries.
type ContentType uint8

const (
	ContentTypeProgram    ContentType = 0x00
	ContentTypeMeta       ContentType = 0x01
	ContentTypeControl    ContentType = 0x02
	ContentTypeManual     ContentType = 0x03
	ContentTypeData       ContentType = 0x04
	ContentTypePublicData ContentType = 0x05
)

// FsType identifies the filesystem packed into a section.
type FsType uint8

const (
	FsTypeRomFs       FsType = 0x00
	FsTypePartitionFs FsType = 0x01
)

// HashType identifies which hash-data layout a section header carries.
type HashType uint8

const (
	HashTypeAuto                      HashType = 0x00
	HashTypeNone                      HashType = 0x01
	HashTypeHierarchicalSha256        HashType = 0x02
	HashTypeHierarchicalIntegrity     HashType = 0x03
	HashTypeAutoSha3                  HashType = 0x04
	HashTypeHierarchicalSha3256       HashType = 0x05
	HashTypeHierarchicalIntegritySha3 HashType = 0x06
)

// EncryptionType identifies a section's per-byte encryption scheme.
type EncryptionType uint8

const (
	EncryptionTypeAuto                EncryptionType = 0x00
	EncryptionTypeNone                EncryptionType = 0x01
	EncryptionTypeAesXts              EncryptionType = 0x02
	EncryptionTypeAesCtr               EncryptionType = 0x03
	EncryptionTypeAesCtrEx            EncryptionType = 0x04
	EncryptionTypeAesCtrSkipLayerHash EncryptionType = 0x05
	EncryptionTypeAesCtrExSkipLayerHash EncryptionType = 0x06
)

// SectionEntry locates one filesystem section within the content, in
// media units (0x200-byte sectors).
type SectionEntry struct {
	StartOffset uint32
	EndOffset   uint32
}

func (e SectionEntry) empty() bool { return e.StartOffset == 0 && e.EndOffset == 0 }

// Region is a byte offset/size pair, as used by HierarchicalSha256's
// layer regions.
type Region struct {
	Offset uint64
	Size   uint64
}

// HierarchicalSha256HashData is the hash-data layout for PFS0-backed
// sections: a flat master hash over fixed-size blocks of one data layer.
type HierarchicalSha256HashData struct {
	MasterHash   [0x20]byte
	BlockSize    uint32
	LayerCount   uint32
	LayerRegions [2]Region
}

// HierarchicalIntegrityLevel is one level of an IVFC hash tree.
type HierarchicalIntegrityLevel struct {
	LogicalOffset uint64
	HashDataSize  uint64
	BlockSize     uint32
}

// HierarchicalIntegrityHashData is the hash-data layout for RomFS-backed
// sections: an IVFC hash tree of three levels, the last locating the
// actual payload.
type HierarchicalIntegrityHashData struct {
	Magic         [4]byte
	Version       uint32
	MasterHashSize uint32
	Levels        [3]HierarchicalIntegrityLevel
	MasterHash    [0x20]byte
}

// HashData is the tagged union of section hash-verification metadata.
// Exactly one of Sha256/Integrity is non-nil after a successful parse.
type HashData struct {
	Sha256    *HierarchicalSha256HashData
	Integrity *HierarchicalIntegrityHashData
}

// PayloadRegion returns the byte range of the section's actual file data,
// per format: HierarchicalSha256 locates it via its first layer region,
// HierarchicalIntegrity via its last (innermost) level.
func (h HashData) PayloadRegion() (Region, bool) {
	switch {
	case h.Sha256 != nil:
		return h.Sha256.LayerRegions[0], true
	case h.Integrity != nil:
		lvl := h.Integrity.Levels[2]
		return Region{Offset: lvl.LogicalOffset, Size: lvl.HashDataSize}, true
	default:
		return Region{}, false
	}
}

// FsHeader is one 0x200-byte NCA filesystem section header.
type FsHeader struct {
	Version        uint16
	FsType         FsType
	HashType       HashType
	EncryptionType EncryptionType
	HashData       HashData
	// PatchInfo is kept as an opaque 0x40-byte blob: BKTR/AES-CTR-Ex
	// subsection bucket parsing is out of scope (see DESIGN.md).
	PatchInfo     [0x40]byte
	Generation    uint32
	SecureValue   uint32
}

// Header is the decrypted NCA header plus its four section headers.
type Header struct {
	ContentType    ContentType
	KeyGeneration  uint8
	KeyGeneration2 uint8
	KeyAreaIndex   uint8
	ContentSize    uint64
	ProgramID      uint64
	RightsID       [0x10]byte
	Sections       [4]SectionEntry
	FsHeaders      [4]FsHeader
	encryptedKeyArea [0x40]byte
}

// HasRightsID reports whether this content uses title-key crypto (rights
// ID non-zero) rather than key-area crypto.
func (h Header) HasRightsID() bool {
	for _, b := range h.RightsID {
		if b != 0 {
			return true
		}
	}
	return false
}

// effectiveKeyGeneration applies the NCA key-generation combination rule:
// the greater of KeyGeneration and KeyGeneration2 is the real generation
// index, offset by one to match the 0-based titlekek/key-area tables
// (generation 1 used index 0, generation 0 also used index 0).
func (h Header) effectiveKeyGeneration() int {
	gen := int(h.KeyGeneration)
	if int(h.KeyGeneration2) > gen {
		gen = int(h.KeyGeneration2)
	}
	gen--
	if gen < 0 {
		gen = 0
	}
	return gen
}

// Reader is an opened NCA: its decrypted header plus the underlying
// content stream used to open individual sections.
type Reader struct {
	src    *streamio.SharedCursor
	header Header
	// titleKey is the decrypted (raw) key used for AES-CTR section
	// decryption: either the unwrapped key-area key (standard crypto) or
	// the title key unwrapped via titlekek (rights-id crypto).
	titleKey []byte
	// keyErr records why titleKey couldn't be resolved, if it couldn't.
	// Construction tolerates this (spec.md's keys-invalid sub-state): a
	// missing key-area key or title key only matters once a caller tries
	// to open an AES-CTR section, not for reading the header or any
	// None/Auto section.
	keyErr error
}

// Open parses and decrypts an NCA header from r, resolving its content
// key either from the key area (standard crypto) or, if rightsID is set
// and titleKeys is non-nil, from the title key database.
func Open(r io.ReadSeeker, ks *keys.Keyset, titleKeys *keys.TitleKeys) (*Reader, error) {
	return OpenShared(streamio.NewSharedCursor(r), ks, titleKeys)
}

// OpenShared is like Open but reuses an existing SharedCursor.
func OpenShared(cursor *streamio.SharedCursor, ks *keys.Keyset, titleKeys *keys.TitleKeys) (*Reader, error) {
	encrypted := make([]byte, headerStructSize)
	if _, err := cursor.ReadAt(encrypted, 0); err != nil {
		return nil, nxerr.Wrap(nxerr.KindIO, err, "read NCA header")
	}

	headerKey, err := ks.HeaderXTSPair()
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindKeyLookup, err, "NCA header XTS key")
	}

	decrypted := make([]byte, len(encrypted))
	for i := 0; i < len(encrypted)/mediaUnitSize; i++ {
		start := i * mediaUnitSize
		end := start + mediaUnitSize
		out, err := cryptoutil.XTSDecrypt(encrypted[start:end], headerKey, uint64(i))
		if err != nil {
			return nil, nxerr.Wrap(nxerr.KindCrypto, err, "decrypt NCA header sector %d", i)
		}
		copy(decrypted[start:end], out)
	}

	if string(decrypted[0x200:0x204]) != magicNCA3 {
		return nil, nxerr.New(nxerr.KindUnsupported, "unsupported NCA magic %q (only NCA3 is supported)", decrypted[0x200:0x204])
	}

	h, err := parseMainHeader(decrypted)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 4; i++ {
		fsh, err := parseFsHeader(decrypted[0x400+i*0x200 : 0x400+(i+1)*0x200])
		if err != nil {
			return nil, nxerr.Wrap(nxerr.KindParse, err, "parse FS header %d", i)
		}
		h.FsHeaders[i] = fsh
	}

	rd := &Reader{src: cursor, header: h}
	rd.resolveContentKey(ks, titleKeys)
	return rd, nil
}

func parseMainHeader(decrypted []byte) (Header, error) {
	b := decrypted[0x200:]
	var h Header
	h.ContentType = ContentType(b[0x05])
	h.KeyGeneration = b[0x06]
	h.KeyAreaIndex = b[0x07]
	h.ContentSize = binary.LittleEndian.Uint64(b[0x08:0x10])
	h.ProgramID = binary.LittleEndian.Uint64(b[0x10:0x18])
	h.KeyGeneration2 = b[0x20]
	copy(h.RightsID[:], b[0x30:0x40])

	for i := 0; i < 4; i++ {
		eb := b[0x40+i*0x10 : 0x40+(i+1)*0x10]
		h.Sections[i] = SectionEntry{
			StartOffset: binary.LittleEndian.Uint32(eb[0:4]),
			EndOffset:   binary.LittleEndian.Uint32(eb[4:8]),
		}
	}

	copy(h.encryptedKeyArea[:], b[0x100:0x140])
	return h, nil
}

func parseFsHeader(data []byte) (FsHeader, error) {
	var fh FsHeader
	fh.Version = binary.LittleEndian.Uint16(data[0:2])
	fh.FsType = FsType(data[2])
	fh.HashType = HashType(data[3])
	fh.EncryptionType = EncryptionType(data[4])
	// data[5] = metadata_hash_type, data[6:8] = reserved; not modeled.

	hashArea := data[8 : 8+0xF8]
	switch fh.HashType {
	case HashTypeHierarchicalSha256, HashTypeHierarchicalSha3256:
		var hd HierarchicalSha256HashData
		copy(hd.MasterHash[:], hashArea[0:0x20])
		hd.BlockSize = binary.LittleEndian.Uint32(hashArea[0x20:0x24])
		hd.LayerCount = binary.LittleEndian.Uint32(hashArea[0x24:0x28])
		for i := 0; i < 2; i++ {
			rb := hashArea[0x28+i*16 : 0x28+(i+1)*16]
			hd.LayerRegions[i] = Region{
				Offset: binary.LittleEndian.Uint64(rb[0:8]),
				Size:   binary.LittleEndian.Uint64(rb[8:16]),
			}
		}
		fh.HashData = HashData{Sha256: &hd}
	case HashTypeHierarchicalIntegrity, HashTypeHierarchicalIntegritySha3:
		var hd HierarchicalIntegrityHashData
		copy(hd.Magic[:], hashArea[0:4])
		hd.Version = binary.LittleEndian.Uint32(hashArea[4:8])
		hd.MasterHashSize = binary.LittleEndian.Uint32(hashArea[8:12])
		for i := 0; i < 3; i++ {
			lb := hashArea[12+i*24 : 12+(i+1)*24]
			hd.Levels[i] = HierarchicalIntegrityLevel{
				LogicalOffset: binary.LittleEndian.Uint64(lb[0:8]),
				HashDataSize:  binary.LittleEndian.Uint64(lb[8:16]),
				BlockSize:     binary.LittleEndian.Uint32(lb[16:20]),
			}
		}
		copy(hd.MasterHash[:], hashArea[0xD0:0xD0+0x20])
		fh.HashData = HashData{Integrity: &hd}
	case HashTypeNone, HashTypeAuto, HashTypeAutoSha3:
		// no hash-data payload to interpret
	default:
		return fh, nxerr.New(nxerr.KindUnsupported, "unsupported hash type 0x%02x", fh.HashType)
	}

	copy(fh.PatchInfo[:], data[0x100:0x140])
	fh.Generation = binary.LittleEndian.Uint32(data[0x140:0x144])
	fh.SecureValue = binary.LittleEndian.Uint32(data[0x144:0x148])

	if fh.EncryptionType == EncryptionTypeAesCtrEx || fh.EncryptionType == EncryptionTypeAesCtrExSkipLayerHash {
		return fh, nxerr.New(nxerr.KindUnsupported, "AES-CTR-Ex (BKTR) sections are not supported")
	}

	return fh, nil
}

// resolveContentKey decrypts the content's AES-CTR key, either from the
// NCA's embedded key area (standard crypto) or, when the content uses a
// rights ID, by unwrapping the matching title key with the appropriate
// titlekek. A lookup or decrypt failure is recorded on r.keyErr rather
// than aborting construction: the header and any unencrypted section
// stay readable with an incomplete keyset, per spec.md's keys-invalid
// sub-state.
func (r *Reader) resolveContentKey(ks *keys.Keyset, titleKeys *keys.TitleKeys) {
	gen := r.header.effectiveKeyGeneration()

	if r.header.HasRightsID() {
		if titleKeys == nil {
			r.keyErr = nxerr.New(nxerr.KindKeyLookup, "content uses rights ID but no title key database was provided")
			return
		}
		rightsIDHex := hexUpper(r.header.RightsID[:])
		wrapped, err := titleKeys.EncryptedTitleKey(rightsIDHex)
		if err != nil {
			r.keyErr = nxerr.Wrap(nxerr.KindKeyLookup, err, "look up title key for rights ID %s", rightsIDHex)
			return
		}
		kek, err := ks.TitleKek(gen)
		if err != nil {
			r.keyErr = nxerr.Wrap(nxerr.KindKeyLookup, err, "titlekek for generation %d", gen)
			return
		}
		key, err := cryptoutil.ECBDecrypt(wrapped, kek)
		if err != nil {
			r.keyErr = nxerr.Wrap(nxerr.KindCrypto, err, "unwrap title key")
			return
		}
		r.titleKey = key
		return
	}

	kind := keys.KeyAreaKind(r.header.KeyAreaIndex)
	kak, err := ks.KeyAreaKey(kind, gen)
	if err != nil {
		r.keyErr = nxerr.Wrap(nxerr.KindKeyLookup, err, "key area key for generation %d", gen)
		return
	}
	// Title key lives at offset 0x20 within the 0x40-byte key area (the
	// third of four 16-byte key slots), matching falk-nsz-go's layout.
	encryptedTitleKey := r.header.encryptedKeyArea[0x20:0x30]
	key, err := cryptoutil.ECBDecrypt(encryptedTitleKey, kak)
	if err != nil {
		r.keyErr = nxerr.Wrap(nxerr.KindCrypto, err, "decrypt key area")
		return
	}
	r.titleKey = key
}

func hexUpper(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xF]
	}
	return string(out)
}

// Header returns the parsed NCA header.
func (r *Reader) Header() Header { return r.header }

// OpenSection returns a decrypting stream over section index i's payload
// region (as located by its hash-data), or the whole section if hash
// verification is disabled for it.
func (r *Reader) OpenSection(i int) (io.ReadSeeker, error) {
	if i < 0 || i >= 4 {
		return nil, nxerr.New(nxerr.KindInvalidArgument, "section index %d out of range", i)
	}
	entry := r.header.Sections[i]
	if entry.empty() {
		return nil, nxerr.New(nxerr.KindNotFound, "section %d is not present", i)
	}
	fsh := r.header.FsHeaders[i]

	sectionStart := int64(entry.StartOffset) * mediaUnitSize
	sectionEnd := int64(entry.EndOffset) * mediaUnitSize

	payloadStart := sectionStart
	payloadEnd := sectionEnd
	if region, ok := fsh.HashData.PayloadRegion(); ok {
		payloadStart = sectionStart + int64(region.Offset)
		payloadEnd = payloadStart + int64(region.Size)
	}

	switch fsh.EncryptionType {
	case EncryptionTypeNone, EncryptionTypeAuto:
		return streamio.NewSubStream(r.src, payloadStart, payloadEnd), nil
	case EncryptionTypeAesCtr, EncryptionTypeAesCtrSkipLayerHash:
		if r.titleKey == nil {
			if r.keyErr != nil {
				return nil, nxerr.Wrap(nxerr.KindKeyLookup, r.keyErr, "no content key available for section %d", i)
			}
			return nil, nxerr.New(nxerr.KindCrypto, "no content key available for section %d", i)
		}
		ctrHi := binary.BigEndian.Uint64(ctrBase(fsh))
		view := streamio.NewCursorView(r.src)
		return streamio.NewCtrStream(view, payloadStart, payloadEnd-payloadStart, ctrHi, r.titleKey)
	case EncryptionTypeAesXts:
		return nil, nxerr.New(nxerr.KindUnsupported, "AES-XTS section encryption is not supported")
	default:
		return nil, nxerr.New(nxerr.KindUnsupported, "unsupported section encryption type 0x%02x", fsh.EncryptionType)
	}
}

// ctrBase returns the 8-byte big-endian counter prefix (the Generation
// field placed above the per-offset counter, per Nintendo's IV layout)
// from an FsHeader's secure value and generation.
func ctrBase(fh FsHeader) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], fh.SecureValue)
	binary.BigEndian.PutUint32(b[4:8], fh.Generation)
	return b[:]
}

