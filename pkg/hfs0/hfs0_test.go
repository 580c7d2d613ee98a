package hfs0

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHfs0(t *testing.T, files map[string][]byte, order []string) []byte {
	t.Helper()

	var stringTable bytes.Buffer
	nameOffsets := make(map[string]uint32, len(order))
	for _, name := range order {
		nameOffsets[name] = uint32(stringTable.Len())
		stringTable.WriteString(name)
		stringTable.WriteByte(0)
	}

	var entries bytes.Buffer
	var data bytes.Buffer
	for _, name := range order {
		content := files[name]
		hash := sha256.Sum256(content)
		require.NoError(t, binary.Write(&entries, binary.LittleEndian, uint64(data.Len())))
		require.NoError(t, binary.Write(&entries, binary.LittleEndian, uint64(len(content))))
		require.NoError(t, binary.Write(&entries, binary.LittleEndian, nameOffsets[name]))
		require.NoError(t, binary.Write(&entries, binary.LittleEndian, uint32(len(content))))
		require.NoError(t, binary.Write(&entries, binary.LittleEndian, uint64(0)))
		entries.Write(hash[:])
		data.Write(content)
	}

	var out bytes.Buffer
	out.WriteString(magic)
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint32(len(order))))
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint32(stringTable.Len())))
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint32(0)))
	out.Write(entries.Bytes())
	out.Write(stringTable.Bytes())
	out.Write(data.Bytes())

	return out.Bytes()
}

func TestOpenListsAndOpensFiles(t *testing.T) {
	files := map[string][]byte{
		"normal": []byte("normal partition data"),
		"secure": []byte("secure partition data, longer"),
	}
	order := []string{"normal", "secure"}
	raw := buildHfs0(t, files, order)

	r, err := Open(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, r.List(), 2)

	e, ok := r.Get("secure")
	require.True(t, ok)

	stream, err := r.Open(e)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, files["secure"], got)

	wantHash := sha256.Sum256(files["secure"])
	assert.Equal(t, wantHash[:], e.SHA256[:])
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := Open(bytes.NewReader(make([]byte, 32)))
	assert.Error(t, err)
}
