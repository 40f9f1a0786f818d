package msf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// imageBuilder assembles a synthetic MSF image for tests, one block-sized
// page at a time.
type imageBuilder struct {
	blockSize uint32
	blocks    [][]byte
}

func newImageBuilder(blockSize uint32, blockCount int) *imageBuilder {
	b := &imageBuilder{blockSize: blockSize}
	for i := 0; i < blockCount; i++ {
		b.blocks = append(b.blocks, make([]byte, blockSize))
	}
	return b
}

func (b *imageBuilder) block(i int) []byte {
	for len(b.blocks) <= i {
		b.blocks = append(b.blocks, make([]byte, b.blockSize))
	}
	return b.blocks[i]
}

func (b *imageBuilder) writeSuperBlock(blockCount, directorySize, dirIndicesBlock uint32) {
	sb := b.block(0)
	copy(sb[0:32], Magic)
	binary.LittleEndian.PutUint32(sb[32:36], b.blockSize)
	binary.LittleEndian.PutUint32(sb[36:40], 1)
	binary.LittleEndian.PutUint32(sb[40:44], blockCount)
	binary.LittleEndian.PutUint32(sb[44:48], directorySize)
	binary.LittleEndian.PutUint32(sb[48:52], 0)
	binary.LittleEndian.PutUint32(sb[52:56], dirIndicesBlock)
}

func (b *imageBuilder) writeUint32At(blockIdx int, offset uint32, v uint32) {
	blk := b.block(blockIdx)
	binary.LittleEndian.PutUint32(blk[offset:offset+4], v)
}

func (b *imageBuilder) fillBlock(blockIdx int, fill byte) {
	blk := b.block(blockIdx)
	for i := range blk {
		blk[i] = fill
	}
}

func (b *imageBuilder) bytes() []byte {
	out := make([]byte, 0, len(b.blocks)*int(b.blockSize))
	for _, blk := range b.blocks {
		out = append(out, blk...)
	}
	return out
}

func TestConvertSizeToBlockCount(t *testing.T) {
	assert.Equal(t, uint32(0), ConvertSizeToBlockCount(0, 512))
	for n := uint32(0); n < 5; n++ {
		assert.Equal(t, n, ConvertSizeToBlockCount(n*512, 512))
		if n > 0 {
			assert.Equal(t, n, ConvertSizeToBlockCount(n*512-1, 512))
		}
		assert.Equal(t, n+1, ConvertSizeToBlockCount(n*512+1, 512))
	}
}

func TestRoundUpToMultiple(t *testing.T) {
	assert.Equal(t, uint64(8), RoundUpToMultiple(8, 4))
	assert.Equal(t, uint64(8), RoundUpToMultiple(5, 4))
	assert.Equal(t, uint64(4), RoundUpToMultiple(1, 4))
	assert.Equal(t, uint64(0), RoundUpToMultiple(0, 4))
}

func TestConvertBlockIndexToFileOffset(t *testing.T) {
	assert.Equal(t, uint64(5120), ConvertBlockIndexToFileOffset(10, 512))
}

// buildDirectoryBytes encodes a stream directory (streamCount, streamSizes,
// streamBlocks) and returns its bytes; callers copy them into the
// directory's block(s) themselves.
func buildDirectoryBytes(blockSize uint32, streamSizes []uint32, streamBlocks [][]uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(streamSizes)))
	for _, s := range streamSizes {
		tmp := make([]byte, 4)
		binary.LittleEndian.PutUint32(tmp, s)
		buf = append(buf, tmp...)
	}
	for _, blocks := range streamBlocks {
		for _, idx := range blocks {
			tmp := make([]byte, 4)
			binary.LittleEndian.PutUint32(tmp, idx)
			buf = append(buf, tmp...)
		}
	}
	return buf
}

// TestSingleStreamContiguous is spec.md §8 scenario 1.
func TestSingleStreamContiguous(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)

	dirData := buildDirectoryBytes(blockSize, []uint32{1000}, [][]uint32{{10, 11}})
	copy(b.block(4), dirData)
	b.writeUint32At(1, 0, 4) // directory indices block index = 1, single entry = block 4
	b.writeSuperBlock(16, uint32(len(dirData)), 1)

	// Fill the stream's data blocks with a recognizable pattern.
	b.fillBlock(10, 0xAB)
	b.fillBlock(11, 0xCD)

	image := b.bytes()

	rf, err := Open(image)
	require.NoError(t, err)
	require.EqualValues(t, 1, rf.StreamCount())

	size, err := rf.StreamSize(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, size)

	cs, err := rf.CreateCoalescedStream(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, cs.Size())
	assert.False(t, cs.Owned(), "contiguous blocks should be borrowed, not copied")

	want := append(append([]byte{}, image[5120:5632]...), image[5632:6120]...)
	assert.Equal(t, want, cs.Bytes())
}

// TestFragmentedStream is spec.md §8 scenario 2.
func TestFragmentedStream(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)

	dirData := buildDirectoryBytes(blockSize, []uint32{1024}, [][]uint32{{7, 3}})
	copy(b.block(4), dirData)
	b.writeUint32At(1, 0, 4)
	b.writeSuperBlock(16, uint32(len(dirData)), 1)

	b.fillBlock(7, 0x11)
	b.fillBlock(3, 0x22)

	image := b.bytes()
	rf, err := Open(image)
	require.NoError(t, err)

	cs, err := rf.CreateCoalescedStream(0)
	require.NoError(t, err)
	require.EqualValues(t, 1024, cs.Size())
	assert.True(t, cs.Owned(), "non-contiguous blocks must be copied")

	got := cs.Bytes()
	assert.Equal(t, image[3584:4096], got[0:512])
	assert.Equal(t, image[1536:2048], got[512:1024])

	ds, err := rf.CreateDirectStream(0)
	require.NoError(t, err)
	roundTrip := ds.ReadAll()
	assert.Equal(t, got, roundTrip, "coalesced and direct reads must agree")
}

// TestDirectoryAcrossTwoBlocks is spec.md §8 scenario 3.
func TestDirectoryAcrossTwoBlocks(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)

	streamSizes := []uint32{100}
	dirData := buildDirectoryBytes(blockSize, streamSizes, [][]uint32{{6}})
	require.Less(t, len(dirData), 600)

	// Directory occupies blocks 4 and 5 (contiguous, 600 declared bytes,
	// well under the 1024 available).
	copy(b.block(4), dirData[:min(len(dirData), blockSize)])
	if len(dirData) > int(blockSize) {
		copy(b.block(5), dirData[blockSize:])
	}
	b.writeUint32At(1, 0, 4)
	b.writeUint32At(1, 4, 5)
	b.writeSuperBlock(16, 600, 1)

	image := b.bytes()
	rf, err := Open(image)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rf.StreamCount())
	assert.EqualValues(t, binary.LittleEndian.Uint32(image[4*blockSize:4*blockSize+4]), 1, "streamCount must be readable from image offset 4*blockSize")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// TestAbsentStream is spec.md §8 scenario 6.
func TestAbsentStream(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)

	// Stream 0: size 100 (1 block @ index 6). Stream 1: absent. Stream 2:
	// size 200 (1 block @ index 7).
	dirData := buildDirectoryBytes(blockSize, []uint32{100, AbsentStreamSize, 200}, [][]uint32{{6}, {7}})
	copy(b.block(4), dirData)
	b.writeUint32At(1, 0, 4)
	b.writeSuperBlock(16, uint32(len(dirData)), 1)

	image := b.bytes()
	rf, err := Open(image)
	require.NoError(t, err)
	require.EqualValues(t, 3, rf.StreamCount())

	size1, err := rf.StreamSize(1)
	require.NoError(t, err)
	assert.EqualValues(t, AbsentStreamSize, size1)

	ds1, err := rf.CreateDirectStream(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ds1.Size())

	size2, err := rf.StreamSize(2)
	require.NoError(t, err)
	assert.EqualValues(t, 200, size2)

	cs2, err := rf.CreateCoalescedStream(2)
	require.NoError(t, err)
	assert.EqualValues(t, 200, cs2.Size())
}

func TestInvalidStreamIndex(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)
	dirData := buildDirectoryBytes(blockSize, []uint32{10}, [][]uint32{{5}})
	copy(b.block(4), dirData)
	b.writeUint32At(1, 0, 4)
	b.writeSuperBlock(16, uint32(len(dirData)), 1)

	rf, err := Open(b.bytes())
	require.NoError(t, err)

	_, err = rf.StreamSize(5)
	require.Error(t, err)
	var msfErr *Error
	require.ErrorAs(t, err, &msfErr)
	assert.Equal(t, ErrInvalidStreamIndex, msfErr.Kind)
}

func TestInvalidMagic(t *testing.T) {
	image := make([]byte, 512)
	_, err := Open(image)
	require.Error(t, err)
	var msfErr *Error
	require.ErrorAs(t, err, &msfErr)
	assert.Equal(t, ErrInvalidSuperBlockMagic, msfErr.Kind)
}

func TestImageTooSmall(t *testing.T) {
	_, err := Open(make([]byte, 10))
	require.Error(t, err)
	var msfErr *Error
	require.ErrorAs(t, err, &msfErr)
	assert.Equal(t, ErrImageTooSmall, msfErr.Kind)
}

func TestGetDataAtOffsetBounds(t *testing.T) {
	const blockSize = 512
	b := newImageBuilder(blockSize, 16)
	dirData := buildDirectoryBytes(blockSize, []uint32{10}, [][]uint32{{5}})
	copy(b.block(4), dirData)
	b.writeUint32At(1, 0, 4)
	b.writeSuperBlock(16, uint32(len(dirData)), 1)

	rf, err := Open(b.bytes())
	require.NoError(t, err)

	cs, err := rf.CreateCoalescedStream(0)
	require.NoError(t, err)

	_, err = GetDataAtOffset[uint32](cs, cs.Size())
	assert.Error(t, err)
}
