package streams

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDBIBytes(optDbgHeaderSlots []uint16) []byte {
	header := DBIHeader{
		VersionSignature:      -1,
		VersionHeader:         DBIStreamVersionV70,
		Machine:               MachineAMD64,
		OptionalDbgHeaderSize: int32(len(optDbgHeaderSlots) * 2),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		panic(err)
	}
	for _, slot := range optDbgHeaderSlots {
		if err := binary.Write(&buf, binary.LittleEndian, slot); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

// TestReadDBIStreamSectionHeaderIndex pins the offset chain into the
// optional debug header substream: with every other substream empty, that
// substream sits right after the fixed 64-byte header, and the
// section-header stream slot is its dbgHdrSectionHdr-th uint16.
func TestReadDBIStreamSectionHeaderIndex(t *testing.T) {
	slots := make([]uint16, dbgHdrSlotCount)
	for i := range slots {
		slots[i] = InvalidStreamIndex
	}
	slots[dbgHdrSectionHdr] = 7

	dbi, err := ReadDBIStream(buildDBIBytes(slots))
	require.NoError(t, err)
	assert.EqualValues(t, 7, dbi.SectionHeaderStreamIndex)
	assert.Equal(t, "x64", MachineTypeName(dbi.Header.Machine))
}

func TestReadDBIStreamNoOptionalHeader(t *testing.T) {
	dbi, err := ReadDBIStream(buildDBIBytes(nil))
	require.NoError(t, err)
	assert.Equal(t, InvalidStreamIndex, dbi.SectionHeaderStreamIndex)
}

func TestReadDBIStreamInvalidSignature(t *testing.T) {
	data := buildDBIBytes(nil)
	binary.LittleEndian.PutUint32(data[0:4], 0)
	_, err := ReadDBIStream(data)
	require.Error(t, err)
}
