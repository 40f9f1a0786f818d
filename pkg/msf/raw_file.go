package msf

// AbsentStreamSize is the sentinel stream size that marks a stream as
// deleted/unused. Its block count is always zero.
const AbsentStreamSize = 0xFFFFFFFF

// RawFile is the aggregate root of the MSF container: it owns the parsed
// SuperBlock and stream directory, and is the factory for per-stream
// Direct/Coalesced views. It borrows image for its entire lifetime.
type RawFile struct {
	image       []byte
	superBlock  *SuperBlock
	directory   *CoalescedStream
	streamCount uint32
	streamSizes []uint32
	// streamBlockOffset[i] is the byte offset, within directory's buffer,
	// at which stream i's block-index row begins. A stream with size
	// AbsentStreamSize has no row and streamBlockOffset is meaningless for
	// it (its block count is always zero).
	streamBlockOffset []uint32
}

// Open parses the SuperBlock and stream directory out of image. image must
// outlive the returned RawFile and every stream view derived from it.
func Open(image []byte) (*RawFile, error) {
	sb, err := ParseSuperBlock(image)
	if err != nil {
		return nil, err
	}

	dirBlockCount := sb.DirectoryBlockCount()
	dirIndicesOffset := ConvertBlockIndexToFileOffset(sb.DirectoryIndicesBlockIndex, sb.BlockSize)
	dirIndicesEnd := dirIndicesOffset + uint64(dirBlockCount)*4
	if dirIndicesEnd > uint64(len(image)) {
		return nil, &Error{Kind: ErrInvalidDirectoryBounds, Offset: dirIndicesOffset}
	}

	dirBlockIndices := make([]uint32, dirBlockCount)
	for i := range dirBlockIndices {
		off := dirIndicesOffset + uint64(i)*4
		dirBlockIndices[i] = leUint32(image[off : off+4])
		if dirBlockIndices[i] >= sb.BlockCount {
			return nil, &Error{Kind: ErrInvalidDirectoryBounds, Offset: off}
		}
	}

	directory := NewCoalescedStream(image, sb.BlockSize, dirBlockIndices, dirBlockCount*sb.BlockSize)

	rf := &RawFile{
		image:      image,
		superBlock: sb,
		directory:  directory,
	}

	if err := rf.parseDirectory(); err != nil {
		return nil, err
	}

	return rf, nil
}

func (rf *RawFile) parseDirectory() error {
	if rf.directory.Size() < 4 {
		return &Error{Kind: ErrInvalidDirectoryBounds}
	}

	countPtr, err := GetDataAtOffset[uint32](rf.directory, 0)
	if err != nil {
		return err
	}
	rf.streamCount = *countPtr

	sizes, err := GetSliceAtOffset[uint32](rf.directory, 4, rf.streamCount)
	if err != nil {
		return err
	}
	rf.streamSizes = sizes

	rf.streamBlockOffset = make([]uint32, rf.streamCount)
	cursor := 4 + 4*rf.streamCount
	for i := uint32(0); i < rf.streamCount; i++ {
		rf.streamBlockOffset[i] = cursor
		size := rf.streamSizes[i]
		if size == AbsentStreamSize {
			continue
		}
		blockCount := ConvertSizeToBlockCount(size, rf.superBlock.BlockSize)
		end := cursor + 4*blockCount
		if uint64(end) > uint64(rf.directory.Size()) {
			return &Error{Kind: ErrInvalidDirectoryBounds, Offset: uint64(cursor)}
		}
		cursor = end
	}

	return nil
}

// StreamCount returns the number of streams described by the directory.
func (rf *RawFile) StreamCount() uint32 {
	return rf.streamCount
}

// IsValidStreamIndex reports whether index names a stream in range.
func (rf *RawFile) IsValidStreamIndex(index uint32) bool {
	return index < rf.streamCount
}

// StreamSize returns the declared size of the stream at index, or
// AbsentStreamSize if the stream is deleted/unused.
func (rf *RawFile) StreamSize(index uint32) (uint32, error) {
	if !rf.IsValidStreamIndex(index) {
		return 0, &Error{Kind: ErrInvalidStreamIndex, StreamIndex: int(index)}
	}
	return rf.streamSizes[index], nil
}

// blockIndicesFor returns the block-index row for stream index, truncated to
// size bytes' worth of blocks. An absent or zero-size stream has no row.
func (rf *RawFile) blockIndicesFor(index uint32, size uint32) ([]uint32, error) {
	if !rf.IsValidStreamIndex(index) {
		return nil, &Error{Kind: ErrInvalidStreamIndex, StreamIndex: int(index)}
	}

	declared := rf.streamSizes[index]
	if declared == AbsentStreamSize {
		return nil, nil
	}

	blockCount := ConvertSizeToBlockCount(size, rf.superBlock.BlockSize)
	if blockCount == 0 {
		return nil, nil
	}

	return GetSliceAtOffset[uint32](rf.directory, rf.streamBlockOffset[index], blockCount)
}

// CreateDirectStream returns a lazy Direct view over the stream at index.
func (rf *RawFile) CreateDirectStream(index uint32) (*DirectStream, error) {
	size, err := rf.StreamSize(index)
	if err != nil {
		return nil, err
	}
	if size == AbsentStreamSize {
		size = 0
	}
	return rf.CreateDirectStreamSized(index, size)
}

// CreateDirectStreamSized is CreateDirectStream with an explicit,
// caller-truncated size (size must not exceed the stream's declared size).
func (rf *RawFile) CreateDirectStreamSized(index, size uint32) (*DirectStream, error) {
	declared, err := rf.StreamSize(index)
	if err != nil {
		return nil, err
	}
	if declared == AbsentStreamSize {
		size = 0
	} else if size > declared {
		return nil, &Error{Kind: ErrInvalidStreamIndex, StreamIndex: int(index)}
	}

	blocks, err := rf.blockIndicesFor(index, size)
	if err != nil {
		return nil, err
	}
	return NewDirectStream(rf.image, rf.superBlock.BlockSize, blocks, size), nil
}

// CreateCoalescedStream returns a contiguous Coalesced view over the stream
// at index.
func (rf *RawFile) CreateCoalescedStream(index uint32) (*CoalescedStream, error) {
	size, err := rf.StreamSize(index)
	if err != nil {
		return nil, err
	}
	if size == AbsentStreamSize {
		size = 0
	}
	return rf.CreateCoalescedStreamSized(index, size)
}

// CreateCoalescedStreamSized is CreateCoalescedStream with an explicit,
// caller-truncated size.
func (rf *RawFile) CreateCoalescedStreamSized(index, size uint32) (*CoalescedStream, error) {
	declared, err := rf.StreamSize(index)
	if err != nil {
		return nil, err
	}
	if declared == AbsentStreamSize {
		size = 0
	} else if size > declared {
		return nil, &Error{Kind: ErrInvalidStreamIndex, StreamIndex: int(index)}
	}

	blocks, err := rf.blockIndicesFor(index, size)
	if err != nil {
		return nil, err
	}
	return NewCoalescedStream(rf.image, rf.superBlock.BlockSize, blocks, size), nil
}

// SuperBlock returns the parsed SuperBlock.
func (rf *RawFile) SuperBlock() *SuperBlock {
	return rf.superBlock
}

// BlockSize returns the block size used by this image.
func (rf *RawFile) BlockSize() uint32 {
	return rf.superBlock.BlockSize
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
