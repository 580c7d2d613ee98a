package cnmt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCnmt(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	h := Header{
		TitleID:                 0x0100000000010000,
		TitleVersion:            1,
		MetaType:                MetaTypeApplication,
		MetaPlatform:            0,
		ExtendedHeaderSize:      16, // sizeof(ApplicationExtendedHeader)
		TotalContentEntries:     1,
		TotalContentMetaEntries: 1,
		Attributes:              0,
		StorageID:               0,
		ContentInstallType:      0,
		Reserved1:               0,
		RequiredDLSystemVersion: 0,
		Reserved2:               0,
	}
	fields := []any{
		h.TitleID, h.TitleVersion, h.MetaType, h.MetaPlatform,
		h.ExtendedHeaderSize, h.TotalContentEntries, h.TotalContentMetaEntries,
		h.Attributes, h.StorageID, h.ContentInstallType, h.Reserved1,
		h.RequiredDLSystemVersion, h.Reserved2,
	}
	for _, f := range fields {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, f))
	}
	require.Equal(t, headerSize, buf.Len())

	ext := ApplicationExtendedHeader{
		PatchID:                    0x0100000000010800,
		RequiredSystemVersion:      0,
		RequiredApplicationVersion: 0,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ext))

	var contentID [16]byte
	contentID[0] = 0xAB
	var hash [32]byte
	hash[0] = 0xCD
	buf.Write(hash[:])
	buf.Write(contentID[:])
	size := uint64(0x1234)
	var sizeBytes [6]byte
	for i := 0; i < 6; i++ {
		sizeBytes[i] = byte(size >> (8 * i))
	}
	buf.Write(sizeBytes[:])
	buf.WriteByte(byte(ContentTypeProgram))
	buf.WriteByte(0) // IDOffset

	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(0x0100000000010001))) // meta title id
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(2)))                   // meta version
	buf.WriteByte(byte(MetaTypeApplication))
	buf.WriteByte(0) // attributes
	buf.Write(make([]byte, 2))

	return buf.Bytes()
}

func TestParseApplicationCnmt(t *testing.T) {
	raw := buildCnmt(t)
	c, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.EqualValues(t, 0x0100000000010000, c.Header.TitleID)
	assert.Equal(t, "0100000000010000", c.TitleIDString())
	assert.Equal(t, MetaTypeApplication, c.Header.MetaType)

	require.NotNil(t, c.ExtendedHeader.Application)
	assert.EqualValues(t, 0x0100000000010800, c.ExtendedHeader.Application.PatchID)

	require.Len(t, c.ContentEntries, 1)
	assert.Equal(t, ContentTypeProgram, c.ContentEntries[0].Info.ContentType)
	assert.EqualValues(t, 0x1234, c.ContentEntries[0].Info.Size)

	entry, ok := c.ContentEntryByType(ContentTypeProgram)
	require.True(t, ok)
	assert.Equal(t, c.ContentEntries[0].Info.ContentID, entry.Info.ContentID)

	mainID, ok := c.MainContentID()
	require.True(t, ok)
	assert.Equal(t, entry.Info.ContentID, mainID)

	_, ok = c.ContentEntryByType(ContentTypeLegalInfo)
	assert.False(t, ok)

	require.Len(t, c.MetaEntries, 1)
	assert.EqualValues(t, 0x0100000000010001, c.MetaEntries[0].TitleID)
	assert.EqualValues(t, 2, c.MetaEntries[0].Version)
}

func TestParseRejectsShortHeader(t *testing.T) {
	_, err := Parse(bytes.NewReader(make([]byte, 4)))
	assert.Error(t, err)
}

func TestParseDataPatchCnmt(t *testing.T) {
	var buf bytes.Buffer
	h := Header{
		TitleID:                 0x0100000000020000,
		TitleVersion:            1,
		MetaType:                MetaTypeDataPatch,
		ExtendedHeaderSize:      24, // sizeof(DataPatchExtendedHeader)
		TotalContentEntries:     0,
		TotalContentMetaEntries: 0,
	}
	fields := []any{
		h.TitleID, h.TitleVersion, h.MetaType, h.MetaPlatform,
		h.ExtendedHeaderSize, h.TotalContentEntries, h.TotalContentMetaEntries,
		h.Attributes, h.StorageID, h.ContentInstallType, h.Reserved1,
		h.RequiredDLSystemVersion, h.Reserved2,
	}
	for _, f := range fields {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, f))
	}

	ext := DataPatchExtendedHeader{
		ApplicationID:              0x0100000000010000,
		RequiredApplicationVersion: 3,
		ExtendedDataSize:           0x800,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ext))

	c, err := Parse(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.NotNil(t, c.ExtendedHeader.DataPatch)
	assert.EqualValues(t, 0x0100000000010000, c.ExtendedHeader.DataPatch.ApplicationID)
	assert.EqualValues(t, 3, c.ExtendedHeader.DataPatch.RequiredApplicationVersion)
	assert.EqualValues(t, 0x800, c.ExtendedHeader.DataPatch.ExtendedDataSize)
	assert.Nil(t, c.ExtendedHeader.Raw)
}
