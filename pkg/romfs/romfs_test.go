package romfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// romfsBuilder assembles a minimal well-formed RomFS image by hand,
// mirroring the on-disk layout computeHash expects callers to navigate.
type romfsBuilder struct {
	dirTable  bytes.Buffer
	fileTable bytes.Buffer
	fileData  bytes.Buffer
}

func putU32(b *bytes.Buffer, v uint32) { var tmp [4]byte; binary.LittleEndian.PutUint32(tmp[:], v); b.Write(tmp[:]) }
func putU64(b *bytes.Buffer, v uint64) { var tmp [8]byte; binary.LittleEndian.PutUint64(tmp[:], v); b.Write(tmp[:]) }

func (rb *romfsBuilder) addDir(parent, sibling, childDir, childFile, hashSibling uint32, name string) uint32 {
	offset := uint32(rb.dirTable.Len())
	putU32(&rb.dirTable, parent)
	putU32(&rb.dirTable, sibling)
	putU32(&rb.dirTable, childDir)
	putU32(&rb.dirTable, childFile)
	putU32(&rb.dirTable, hashSibling)
	putU32(&rb.dirTable, uint32(len(name)))
	rb.dirTable.WriteString(name)
	for rb.dirTable.Len()%4 != 0 {
		rb.dirTable.WriteByte(0)
	}
	return offset
}

func (rb *romfsBuilder) addFile(parent, sibling, hashSibling uint32, name string, content []byte) uint32 {
	offset := uint32(rb.fileTable.Len())
	dataOffset := uint64(rb.fileData.Len())
	putU32(&rb.fileTable, parent)
	putU32(&rb.fileTable, sibling)
	putU64(&rb.fileTable, dataOffset)
	putU64(&rb.fileTable, uint64(len(content)))
	putU32(&rb.fileTable, hashSibling)
	putU32(&rb.fileTable, uint32(len(name)))
	rb.fileTable.WriteString(name)
	for rb.fileTable.Len()%4 != 0 {
		rb.fileTable.WriteByte(0)
	}
	rb.fileData.Write(content)
	return offset
}

func TestComputeHashStaysWithinTable(t *testing.T) {
	h := computeHash(0, []byte("file.txt"), 16)
	assert.Less(t, h, uint32(16))
}

func TestOpenFindsRootChildByPath(t *testing.T) {
	rb := &romfsBuilder{}
	// Root dir at offset 0 with a single child file "a.txt".
	rootOffset := rb.addDir(InvalidEntry, InvalidEntry, InvalidEntry, InvalidEntry, InvalidEntry, "")
	require.EqualValues(t, 0, rootOffset)

	fileContent := []byte("hello romfs")
	fileOffset := rb.addFile(rootOffset, InvalidEntry, InvalidEntry, "a.txt", fileContent)

	// Patch root's child_file_offset now that we know fileOffset.
	dirBytes := rb.dirTable.Bytes()
	binary.LittleEndian.PutUint32(dirBytes[12:16], fileOffset)

	dirHashTable := make([]uint32, 4)
	for i := range dirHashTable {
		dirHashTable[i] = InvalidEntry
	}
	dirHashTable[computeHash(InvalidEntry, nil, 4)] = rootOffset

	fileHashTable := make([]uint32, 4)
	for i := range fileHashTable {
		fileHashTable[i] = InvalidEntry
	}
	fileHashTable[computeHash(rootOffset, []byte("a.txt"), 4)] = fileOffset

	var dirHashBuf, fileHashBuf bytes.Buffer
	for _, h := range dirHashTable {
		putU32(&dirHashBuf, h)
	}
	for _, h := range fileHashTable {
		putU32(&fileHashBuf, h)
	}

	dirHashOff := uint64(headerSize)
	fileHashOff := dirHashOff + uint64(dirHashBuf.Len())
	dirTableOff := fileHashOff + uint64(fileHashBuf.Len())
	fileTableOff := dirTableOff + uint64(rb.dirTable.Len())
	fileDataOff := fileTableOff + uint64(rb.fileTable.Len())

	var out bytes.Buffer
	putU32(&out, headerSize)
	putU64(&out, dirHashOff)
	putU32(&out, uint32(dirHashBuf.Len()))
	putU64(&out, dirTableOff)
	putU32(&out, uint32(rb.dirTable.Len()))
	putU64(&out, fileHashOff)
	putU32(&out, uint32(fileHashBuf.Len()))
	putU64(&out, fileTableOff)
	putU32(&out, uint32(rb.fileTable.Len()))
	putU64(&out, fileDataOff)
	out.Write(make([]byte, headerSize-out.Len())) // pad the header region to headerSize
	out.Write(dirHashBuf.Bytes())
	out.Write(fileHashBuf.Bytes())
	out.Write(dirBytes)
	out.Write(rb.fileTable.Bytes())
	out.Write(rb.fileData.Bytes())

	r, err := Open(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)

	entry, ok, err := r.GetFileByPath("/a.txt")
	require.NoError(t, err)
	require.True(t, ok)

	stream, err := r.Open(entry)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, fileContent, got)

	_, ok, err = r.GetFileByPath("/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
