package msf

// DirectStream is a lazy, random-access view over a stream whose blocks may
// be scattered non-contiguously across the image. It resolves the block
// indirection on every read and performs no allocation at construction.
//
// A DirectStream borrows image and blockIndices; it must not outlive either.
type DirectStream struct {
	image        []byte
	blockSize    uint32
	blockIndices []uint32
	size         uint32
}

// NewDirectStream constructs a DirectStream. It stores references only.
func NewDirectStream(image []byte, blockSize uint32, blockIndices []uint32, size uint32) *DirectStream {
	return &DirectStream{
		image:        image,
		blockSize:    blockSize,
		blockIndices: blockIndices,
		size:         size,
	}
}

// Size returns the logical size of the stream in bytes.
func (s *DirectStream) Size() uint32 {
	return s.size
}

// BlockIndexForOffset returns the index, within blockIndices, of the block
// that holds the given logical stream offset.
func (s *DirectStream) BlockIndexForOffset(offset uint32) uint32 {
	return offset / s.blockSize
}

// DataOffsetForOffset returns the byte offset within that block of the
// given logical stream offset.
func (s *DirectStream) DataOffsetForOffset(offset uint32) uint32 {
	return offset % s.blockSize
}

// ReadAt copies len(dst) bytes starting at logical stream offset offset
// into dst, crossing block boundaries transparently. The caller must
// guarantee offset+len(dst) <= Size(); this is a precondition, not a
// recoverable error, since DirectStream is an internal, already-validated
// view.
func (s *DirectStream) ReadAt(offset uint32, dst []byte) {
	remaining := dst
	pos := offset

	for len(remaining) > 0 {
		blockIdx := s.BlockIndexForOffset(pos)
		inBlock := s.DataOffsetForOffset(pos)

		fileOffset := ConvertBlockIndexToFileOffset(s.blockIndices[blockIdx], s.blockSize) + uint64(inBlock)

		chunk := s.blockSize - inBlock
		if chunk > uint32(len(remaining)) {
			chunk = uint32(len(remaining))
		}

		copy(remaining[:chunk], s.image[fileOffset:fileOffset+uint64(chunk)])

		remaining = remaining[chunk:]
		pos += chunk
	}
}

// ReadAll reads the entire stream into a freshly allocated buffer.
func (s *DirectStream) ReadAll() []byte {
	data := make([]byte, s.size)
	if s.size > 0 {
		s.ReadAt(0, data)
	}
	return data
}
