package codeview

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux/gopdb/pkg/msf"
)

// streamOf wraps a raw byte buffer in a single-block CoalescedStream, so
// tests can exercise the walker without going through a full MSF image.
func streamOf(buf []byte) *msf.CoalescedStream {
	return msf.NewCoalescedStream(buf, uint32(len(buf)), []uint32{0}, uint32(len(buf)))
}

func putSubsectionHeader(buf []byte, offset int, kind, size uint32) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], kind)
	binary.LittleEndian.PutUint32(buf[offset+4:offset+8], size)
}

// TestSubsectionWalk is spec.md §8 scenario 4: one S_LINES (size=40) then
// one S_FILECHECKSUMS (size=12).
func TestSubsectionWalk(t *testing.T) {
	// Section 1 ends at 48 + 8 (header) + 12 (body) = 68, already 4-aligned.
	buf := make([]byte, 68)

	// Section 0: S_LINES, body size 40, starting at offset 0.
	putSubsectionHeader(buf, 0, SubsectionLines, 40)
	// LinesHeader (12 bytes) at offset 8, rest of the 40-byte body left zero.
	binary.LittleEndian.PutUint32(buf[8:12], 0)  // Offset
	binary.LittleEndian.PutUint16(buf[12:14], 0) // Segment
	binary.LittleEndian.PutUint16(buf[14:16], 0) // Flags
	binary.LittleEndian.PutUint32(buf[16:20], 0) // CodeSize

	// Section 1: S_FILECHECKSUMS, body size 12, starting at roundUp(8+40,4)=48.
	putSubsectionHeader(buf, 48, SubsectionFileChecksums, 12)
	// One FileChecksumHeader (6 bytes) + 4 bytes checksum at offset 56.
	binary.LittleEndian.PutUint32(buf[56:60], 0) // NameOffset
	buf[60] = 4                                  // ChecksumSize
	buf[61] = 1                                  // ChecksumKind
	copy(buf[62:66], []byte{0xAA, 0xBB, 0xCC, 0xDD})

	stream := streamOf(buf)
	walker := NewModuleLineStream(stream, 0)

	var offsets []uint32
	var kinds []uint32
	for section := range walker.Sections() {
		offsets = append(offsets, section.Offset)
		kinds = append(kinds, section.Header.Kind)
	}
	require.NoError(t, walker.Err())
	require.Equal(t, []uint32{0, 48}, offsets)
	require.Equal(t, []uint32{SubsectionLines, SubsectionFileChecksums}, kinds)

	// Re-walk to get the second section value for FileChecksums.
	var second *LineSection
	i := 0
	for section := range walker.Sections() {
		if i == 1 {
			second = section
		}
		i++
	}
	require.NotNil(t, second)

	var checksums []*FileChecksum
	for fc := range walker.FileChecksums(second) {
		checksums = append(checksums, fc)
	}
	require.NoError(t, walker.Err())
	require.Len(t, checksums, 1)
	assert.EqualValues(t, 4, checksums[0].Header.ChecksumSize)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, checksums[0].Checksum)
}

// TestMalformedSubsection is spec.md §8 scenario 5: header.size overruns the
// stream. Construction succeeds; iteration reports ErrMalformedSubsection.
func TestMalformedSubsection(t *testing.T) {
	buf := make([]byte, 16)
	putSubsectionHeader(buf, 0, SubsectionLines, 1000) // far larger than the stream

	stream := streamOf(buf)
	walker := NewModuleLineStream(stream, 0)

	for range walker.Sections() {
		t.Fatal("an overrunning section must not be yielded")
	}
	err := walker.Err()
	require.Error(t, err)
	var msfErr *msf.Error
	require.ErrorAs(t, err, &msfErr)
	assert.Equal(t, msf.ErrMalformedSubsection, msfErr.Kind)
}

func TestLinesBlockDecoding(t *testing.T) {
	// One S_LINES subsection: LinesHeader (12 bytes) + one LinesFileBlockHeader
	// (12 bytes, size including header = 12 + 2*8 = 28) + two line entries.
	bodySize := 12 + 28
	buf := make([]byte, 8+bodySize)
	putSubsectionHeader(buf, 0, SubsectionLines, uint32(bodySize))

	blockOffset := 20
	binary.LittleEndian.PutUint32(buf[blockOffset:blockOffset+4], 3)  // FileID
	binary.LittleEndian.PutUint32(buf[blockOffset+4:blockOffset+8], 2) // LineCount
	binary.LittleEndian.PutUint32(buf[blockOffset+8:blockOffset+12], 28) // Size

	entry0 := blockOffset + 12
	binary.LittleEndian.PutUint32(buf[entry0:entry0+4], 0x10)
	binary.LittleEndian.PutUint32(buf[entry0+4:entry0+8], 100)
	entry1 := entry0 + 8
	binary.LittleEndian.PutUint32(buf[entry1:entry1+4], 0x20)
	binary.LittleEndian.PutUint32(buf[entry1+4:entry1+8], 101)

	stream := streamOf(buf)
	walker := NewModuleLineStream(stream, 0)

	var section *LineSection
	for s := range walker.Sections() {
		section = s
	}
	require.NoError(t, walker.Err())
	require.NotNil(t, section)

	var blocks []*LineBlock
	for b := range walker.LinesBlocks(section) {
		blocks = append(blocks, b)
	}
	require.NoError(t, walker.Err())
	require.Len(t, blocks, 1)
	assert.EqualValues(t, 3, blocks[0].Header.FileID)
	require.Len(t, blocks[0].Entries, 2)
	assert.EqualValues(t, 0x10, blocks[0].Entries[0].Offset)
	assert.EqualValues(t, 100, blocks[0].Entries[0].LineNumStart)
}
