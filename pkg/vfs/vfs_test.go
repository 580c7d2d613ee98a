package vfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryouvc/nxfs/pkg/hfs0"
	"github.com/ryouvc/nxfs/pkg/pfs0"
	"github.com/ryouvc/nxfs/pkg/romfs"
)

func buildPfs0(files map[string][]byte, order []string) []byte {
	var stringTable bytes.Buffer
	nameOffsets := make(map[string]uint32, len(order))
	for _, name := range order {
		nameOffsets[name] = uint32(stringTable.Len())
		stringTable.WriteString(name)
		stringTable.WriteByte(0)
	}
	var entries, data bytes.Buffer
	for _, name := range order {
		content := files[name]
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], uint64(data.Len()))
		entries.Write(tmp8[:])
		binary.LittleEndian.PutUint64(tmp8[:], uint64(len(content)))
		entries.Write(tmp8[:])
		var tmp4 [4]byte
		binary.LittleEndian.PutUint32(tmp4[:], nameOffsets[name])
		entries.Write(tmp4[:])
		entries.Write(make([]byte, 4)) // reserved
		data.Write(content)
	}
	var out bytes.Buffer
	out.WriteString("PFS0")
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(order)))
	out.Write(tmp4[:])
	binary.LittleEndian.PutUint32(tmp4[:], uint32(stringTable.Len()))
	out.Write(tmp4[:])
	out.Write(make([]byte, 4))
	out.Write(entries.Bytes())
	out.Write(stringTable.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

func buildHfs0(files map[string][]byte, order []string) []byte {
	var stringTable bytes.Buffer
	nameOffsets := make(map[string]uint32, len(order))
	for _, name := range order {
		nameOffsets[name] = uint32(stringTable.Len())
		stringTable.WriteString(name)
		stringTable.WriteByte(0)
	}
	var entries, data bytes.Buffer
	for _, name := range order {
		content := files[name]
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], uint64(data.Len()))
		entries.Write(tmp8[:])
		binary.LittleEndian.PutUint64(tmp8[:], uint64(len(content)))
		entries.Write(tmp8[:])
		var tmp4 [4]byte
		binary.LittleEndian.PutUint32(tmp4[:], nameOffsets[name])
		entries.Write(tmp4[:])
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(content)))
		entries.Write(tmp4[:])
		entries.Write(make([]byte, 8))  // reserved
		entries.Write(make([]byte, 32)) // sha256 (unverified)
		data.Write(content)
	}
	var out bytes.Buffer
	out.WriteString("HFS0")
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(order)))
	out.Write(tmp4[:])
	binary.LittleEndian.PutUint32(tmp4[:], uint32(stringTable.Len()))
	out.Write(tmp4[:])
	out.Write(make([]byte, 4))
	out.Write(entries.Bytes())
	out.Write(stringTable.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

// romfsHash mirrors romfs's unexported name-hash algorithm so this test
// can place the file entry at the bucket findFileInDir will actually probe.
func romfsHash(parent uint32, name []byte, tableLen int) uint32 {
	hash := parent ^ 123456789
	for _, b := range name {
		hash = (hash >> 5) | (hash << (32 - 5))
		hash ^= uint32(b)
	}
	return hash % uint32(tableLen)
}

// buildRomfsSingleFile builds a RomFS image with one root-level file.
func buildRomfsSingleFile(name string, content []byte) []byte {
	var dirTable, fileTable, fileData bytes.Buffer
	putU32 := func(b *bytes.Buffer, v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); b.Write(t[:]) }
	putU64 := func(b *bytes.Buffer, v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); b.Write(t[:]) }

	rootOffset := uint32(0)
	putU32(&dirTable, romfs.InvalidEntry) // parent
	putU32(&dirTable, romfs.InvalidEntry) // sibling
	putU32(&dirTable, romfs.InvalidEntry) // child dir
	putU32(&dirTable, romfs.InvalidEntry) // child file (patched below)
	putU32(&dirTable, romfs.InvalidEntry) // hash sibling
	putU32(&dirTable, 0)                  // name size (root has no name)

	fileOffset := uint32(fileTable.Len())
	putU32(&fileTable, rootOffset)
	putU32(&fileTable, romfs.InvalidEntry)
	putU64(&fileTable, uint64(fileData.Len()))
	putU64(&fileTable, uint64(len(content)))
	putU32(&fileTable, romfs.InvalidEntry)
	putU32(&fileTable, uint32(len(name)))
	fileTable.WriteString(name)
	for fileTable.Len()%4 != 0 {
		fileTable.WriteByte(0)
	}
	fileData.Write(content)

	dirBytes := dirTable.Bytes()
	binary.LittleEndian.PutUint32(dirBytes[12:16], fileOffset)

	dirHashTable := []uint32{romfs.InvalidEntry, romfs.InvalidEntry, romfs.InvalidEntry, romfs.InvalidEntry}
	fileHashTable := []uint32{romfs.InvalidEntry, romfs.InvalidEntry, romfs.InvalidEntry, romfs.InvalidEntry}
	fileHashTable[romfsHash(rootOffset, []byte(name), len(fileHashTable))] = fileOffset

	var dirHashBuf, fileHashBuf bytes.Buffer
	for _, h := range dirHashTable {
		putU32(&dirHashBuf, h)
	}
	for _, h := range fileHashTable {
		putU32(&fileHashBuf, h)
	}

	const headerSize = 0x50
	dirHashOff := uint64(headerSize)
	fileHashOff := dirHashOff + uint64(dirHashBuf.Len())
	dirTableOff := fileHashOff + uint64(fileHashBuf.Len())
	fileTableOff := dirTableOff + uint64(len(dirBytes))
	fileDataOff := fileTableOff + uint64(fileTable.Len())

	var out bytes.Buffer
	putU32(&out, headerSize)
	putU64(&out, dirHashOff)
	putU32(&out, uint32(dirHashBuf.Len()))
	putU64(&out, dirTableOff)
	putU32(&out, uint32(len(dirBytes)))
	putU64(&out, fileHashOff)
	putU32(&out, uint32(fileHashBuf.Len()))
	putU64(&out, fileTableOff)
	putU32(&out, uint32(fileTable.Len()))
	putU64(&out, fileDataOff)
	out.Write(make([]byte, headerSize-out.Len())) // pad the header region to headerSize
	out.Write(dirHashBuf.Bytes())
	out.Write(fileHashBuf.Bytes())
	out.Write(dirBytes)
	out.Write(fileTable.Bytes())
	out.Write(fileData.Bytes())
	return out.Bytes()
}

func TestPFS0ContainerAdapter(t *testing.T) {
	raw := buildPfs0(map[string][]byte{"a.txt": []byte("hello")}, []string{"a.txt"})
	r, err := pfs0.Open(bytes.NewReader(raw))
	require.NoError(t, err)

	c := NewPFS0Container(r)
	entries := c.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.EqualValues(t, 5, entries[0].Size)

	e, ok := c.Get("a.txt")
	require.True(t, ok)
	stream, err := c.Open(e)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestHFS0ContainerAdapter(t *testing.T) {
	raw := buildHfs0(map[string][]byte{"secure": []byte("card data")}, []string{"secure"})
	r, err := hfs0.Open(bytes.NewReader(raw))
	require.NoError(t, err)

	c := NewHFS0Container(r)
	e, ok := c.Get("secure")
	require.True(t, ok)
	assert.EqualValues(t, len("card data"), e.Size)

	stream, err := c.Open(e)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, []byte("card data"), got)
}

func TestRomFSContainerAdapter(t *testing.T) {
	raw := buildRomfsSingleFile("a.txt", []byte("hello romfs"))
	r, err := romfs.Open(bytes.NewReader(raw))
	require.NoError(t, err)

	c := NewRomFSContainer(r, "/")
	entries := c.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	e, ok := c.Get("a.txt")
	require.True(t, ok)
	stream, err := c.Open(e)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello romfs"), got)

	_, ok = c.Get("missing.txt")
	assert.False(t, ok)
}
