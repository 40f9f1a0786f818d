package streams

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putSectionHeader(buf []byte, offset int, name string, virtualSize, virtualAddress uint32) {
	copy(buf[offset:offset+8], name)
	binary.LittleEndian.PutUint32(buf[offset+8:], virtualSize)
	binary.LittleEndian.PutUint32(buf[offset+12:], virtualAddress)
}

func TestParseSectionHeadersAndRVA(t *testing.T) {
	buf := make([]byte, sectionHeaderSize*2)
	putSectionHeader(buf, 0, ".text", 0x1000, 0x1000)
	putSectionHeader(buf, sectionHeaderSize, ".data", 0x200, 0x2000)

	sh, err := ParseSectionHeaders(buf)
	require.NoError(t, err)
	require.Equal(t, 2, sh.Count())

	sec0, err := sh.Get(0)
	require.NoError(t, err)
	assert.Equal(t, ".text", sec0.NameString())

	assert.EqualValues(t, 0x1050, sh.ToRVA(1, 0x50))
	assert.EqualValues(t, 0x2010, sh.ToRVA(2, 0x10))
	assert.EqualValues(t, 0, sh.ToRVA(3, 0))
	assert.EqualValues(t, 0, sh.ToRVA(0, 0))

	section, offset := sh.FindSection(0x2010)
	assert.EqualValues(t, 2, section)
	assert.EqualValues(t, 0x10, offset)

	section, offset = sh.FindSection(0xFFFFFF)
	assert.EqualValues(t, 0, section)
	assert.EqualValues(t, 0, offset)
}

func TestParseSectionHeadersTooSmall(t *testing.T) {
	sh, err := ParseSectionHeaders(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, sh.Count())
}
