package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ryouvc/nxfs/pkg/hfs0"
	"github.com/ryouvc/nxfs/pkg/keys"
	"github.com/ryouvc/nxfs/pkg/pfs0"
	"github.com/ryouvc/nxfs/pkg/vfs"
	"github.com/ryouvc/nxfs/pkg/xci"
)

// loadKeyset loads the keyset/title-keys files named by --keys/--title-keys
// (or their NXFS_KEYS/NXFS_TITLEKEYS/config-file equivalents), logging any
// tolerated malformed lines rather than failing the whole load.
func loadKeyset() (*keys.Keyset, *keys.TitleKeys, error) {
	if keysPath == "" {
		return nil, nil, fmt.Errorf("no keyset file given (--keys, NXFS_KEYS, or config \"keys\")")
	}
	f, err := os.Open(keysPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open keyset file: %w", err)
	}
	defer f.Close()

	ks, warnings := keys.FromText(f)
	for _, w := range warnings {
		logWarn("keys", keysPath, w)
	}

	var tk *keys.TitleKeys
	if titleKeysPath != "" {
		tf, err := os.Open(titleKeysPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open title-keys file: %w", err)
		}
		defer tf.Close()

		var twarnings []keys.Warning
		tk, twarnings = keys.FromTitleKeyText(tf)
		for _, w := range twarnings {
			logWarn("title-keys", titleKeysPath, w)
		}
	}
	return ks, tk, nil
}

// magicAt reads n bytes from path at offset off for a cheap format probe,
// without committing to a full parse.
func magicAt(path string, off int64, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return "", err
	}
	return string(buf), nil
}

// openContainer sniffs path's container format by magic bytes and adapts
// it to vfs.Container (plus a vfs.TitleDataSource when the format carries
// one). NCA and RomFS aren't dispatched here: NCA's container shape
// (numbered sections, not a name-addressed file list) and RomFS's
// magic-less header don't fit a flat Container — both are reached by
// opening the right section of their parent container instead.
func openContainer(path string) (vfs.Container, vfs.TitleDataSource, error) {
	if m, err := magicAt(path, 0, 4); err == nil {
		switch m {
		case "PFS0":
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, err
			}
			r, err := pfs0.Open(f)
			if err != nil {
				return nil, nil, err
			}
			return vfs.NewPFS0Container(r), r, nil
		case "HFS0":
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, err
			}
			r, err := hfs0.Open(f)
			if err != nil {
				return nil, nil, err
			}
			return vfs.NewHFS0Container(r), nil, nil
		}
	}

	if m, err := magicAt(path, 0x100, 4); err == nil && m == "HEAD" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		r, err := xci.Open(f)
		if err != nil {
			return nil, nil, err
		}
		root, err := r.ListPartitions()
		if err != nil {
			return nil, nil, err
		}
		return vfs.NewHFS0Container(root), r, nil
	}

	return nil, nil, fmt.Errorf("%s: unrecognized container format (expected PFS0, HFS0, or XCI magic)", filepath.Base(path))
}

func logWarn(kind, path string, w keys.Warning) {
	slog.Warn("tolerated malformed line", "file", kind, "path", path, "line", w.Line, "reason", w.Reason)
}
