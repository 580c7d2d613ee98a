// Package keys loads and looks up the named key material Switch container
// formats need: the header XTS key pair, per-generation key-area keys, and
// per-generation title key encryption keys, plus the title-key database
// that maps a rights ID to an encrypted per-title key.
//
// Grounded on nx-archive's formats/keyset.rs: a flat "name = hex" file with
// no master-key derivation step, matching exactly what NCA/XCI parsing
// needs (header_key, key_area_key_<kind>_XX, titlekek_XX).
package keys

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ryouvc/nxfs/internal/nxerr"
)

// KeyAreaKind selects which of the three NCA key-area key families to use,
// chosen by the NCA header's KeyAreaIndex field.
type KeyAreaKind int

const (
	KeyAreaApplication KeyAreaKind = iota
	KeyAreaOcean
	KeyAreaSystem
)

func (k KeyAreaKind) sourceName() string {
	switch k {
	case KeyAreaOcean:
		return "key_area_key_ocean"
	case KeyAreaSystem:
		return "key_area_key_system"
	default:
		return "key_area_key_application"
	}
}

// Warning describes a tolerated but suspicious line in a keys file: never
// an error, since a stray blank or malformed line shouldn't abort loading
// an otherwise usable key file.
type Warning struct {
	Line   int
	Reason string
}

// Keyset holds named key material loaded from a prod.keys-style file.
type Keyset struct {
	named map[string][]byte
}

// isCommentOrBlank reports whether line (already trimmed) should be
// skipped: empty, or led by one of the ';', '#', '//' comment markers.
func isCommentOrBlank(line string) bool {
	return line == "" ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, ";") ||
		strings.HasPrefix(line, "//")
}

// FromText parses "name = hexvalue" lines, one per line, tolerating blank
// lines, ';'/'#'/'//'-led comments, and malformed lines (reported as
// Warnings, not errors).
func FromText(r io.Reader) (*Keyset, []Warning) {
	ks := &Keyset{named: make(map[string][]byte)}
	var warnings []Warning

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if isCommentOrBlank(line) {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "missing '='"})
			continue
		}

		name := strings.TrimSpace(parts[0])
		valHex := strings.TrimSpace(parts[1])
		val, err := hex.DecodeString(valHex)
		if err != nil {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "invalid hex value"})
			continue
		}

		ks.named[name] = val
	}

	return ks, warnings
}

// Named returns the raw bytes for a directly-named key (e.g. "header_key"),
// or a KeyLookup error if absent.
func (k *Keyset) Named(name string) ([]byte, error) {
	v, ok := k.named[name]
	if !ok {
		return nil, nxerr.New(nxerr.KindKeyLookup, "key %q not present in keyset", name)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// HeaderXTSPair returns the 32-byte header_key used to XTS-decrypt NCA
// headers.
func (k *Keyset) HeaderXTSPair() ([]byte, error) {
	return k.Named("header_key")
}

// KeyAreaKey returns the key-area key for the given kind and generation.
func (k *Keyset) KeyAreaKey(kind KeyAreaKind, generation int) ([]byte, error) {
	name := fmt.Sprintf("%s_%02x", kind.sourceName(), generation)
	v, err := k.Named(name)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindKeyLookup, err, "key area key for generation %d", generation)
	}
	return v, nil
}

// TitleKek returns the title key encryption key for the given generation.
func (k *Keyset) TitleKek(generation int) ([]byte, error) {
	name := fmt.Sprintf("titlekek_%02x", generation)
	v, err := k.Named(name)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindKeyLookup, err, "titlekek for generation %d", generation)
	}
	return v, nil
}

// TitleKeys maps an upper-case 32-hex-digit rights ID to its 16-byte
// encrypted (wrapped) title key, as loaded from a title.keys file.
type TitleKeys struct {
	byRightsID map[string][]byte
}

// FromTitleKeyText parses "rightsid = hexkey" lines.
func FromTitleKeyText(r io.Reader) (*TitleKeys, []Warning) {
	tk := &TitleKeys{byRightsID: make(map[string][]byte)}
	var warnings []Warning

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if isCommentOrBlank(line) {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "missing '='"})
			continue
		}

		rightsID := strings.ToUpper(strings.TrimSpace(parts[0]))
		keyHex := strings.TrimSpace(parts[1])
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 16 {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "invalid title key"})
			continue
		}

		tk.byRightsID[rightsID] = key
	}

	return tk, warnings
}

// EncryptedTitleKey looks up the encrypted (wrapped) title key for a
// rights ID, given as 32 uppercase hex digits.
func (tk *TitleKeys) EncryptedTitleKey(rightsID string) ([]byte, error) {
	rightsID = strings.ToUpper(rightsID)
	if len(rightsID) != 32 {
		return nil, nxerr.New(nxerr.KindInvalidArgument, "rights ID %q must be 32 hex digits", rightsID)
	}
	if _, err := hex.DecodeString(rightsID); err != nil {
		return nil, nxerr.New(nxerr.KindInvalidArgument, "rights ID %q is not hex", rightsID)
	}
	v, ok := tk.byRightsID[rightsID]
	if !ok {
		return nil, nxerr.New(nxerr.KindKeyLookup, "no title key for rights ID %s", rightsID)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}
