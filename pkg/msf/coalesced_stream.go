package msf

import "unsafe"

// CoalescedStream presents a stream's bytes as a single contiguous buffer,
// either borrowed directly from the image (when the stream's blocks happen
// to be contiguous in the image) or synthesized into an owned copy
// otherwise. This is what lets higher layers take zero-copy typed pointers
// into metadata streams.
type CoalescedStream struct {
	buffer []byte
	owned  bool
}

// NewCoalescedStream builds a CoalescedStream over the given stream
// description. If blockIndices are consecutive in image-space, the
// returned stream borrows a slice of image directly; otherwise it
// allocates size bytes and copies each block in.
func NewCoalescedStream(image []byte, blockSize uint32, blockIndices []uint32, size uint32) *CoalescedStream {
	if len(blockIndices) == 0 || size == 0 {
		return &CoalescedStream{buffer: image[:0]}
	}

	if blocksAreContiguous(blockIndices) {
		start := ConvertBlockIndexToFileOffset(blockIndices[0], blockSize)
		return &CoalescedStream{buffer: image[start : start+uint64(size)]}
	}

	buf := make([]byte, size)
	written := uint32(0)
	for _, blockIdx := range blockIndices {
		n := blockSize
		if remaining := size - written; remaining < n {
			n = remaining
		}
		off := ConvertBlockIndexToFileOffset(blockIdx, blockSize)
		copy(buf[written:written+n], image[off:off+uint64(n)])
		written += n
	}

	return &CoalescedStream{buffer: buf, owned: true}
}

func blocksAreContiguous(blockIndices []uint32) bool {
	for i := 1; i < len(blockIndices); i++ {
		if blockIndices[i] != blockIndices[i-1]+1 {
			return false
		}
	}
	return true
}

// Size returns the size of the coalesced buffer in bytes.
func (s *CoalescedStream) Size() uint32 {
	return uint32(len(s.buffer))
}

// Bytes returns the full underlying buffer. Callers must not retain it past
// the CoalescedStream's lifetime if it is borrowed from the image.
func (s *CoalescedStream) Bytes() []byte {
	return s.buffer
}

// Owned reports whether the buffer was synthesized (as opposed to borrowed
// directly from the image).
func (s *CoalescedStream) Owned() bool {
	return s.owned
}

// GetDataAtOffset returns a pointer to a T overlaid at the given byte
// offset within the stream's buffer. The pointer is valid for the
// CoalescedStream's lifetime. offset+sizeof(T) must not exceed Size().
func GetDataAtOffset[T any](s *CoalescedStream, offset uint32) (*T, error) {
	var zero T
	size := uint32(unsafe.Sizeof(zero))
	if uint64(offset)+uint64(size) > uint64(len(s.buffer)) {
		return nil, &Error{Kind: ErrInvalidDirectoryBounds, Offset: uint64(offset)}
	}
	return (*T)(unsafe.Pointer(&s.buffer[offset])), nil
}

// GetSliceAtOffset returns a []T of length count overlaid at the given byte
// offset within the stream's buffer, for the common case of a run of
// fixed-width records (e.g. the uint32 stream-size or block-index arrays in
// the directory).
func GetSliceAtOffset[T any](s *CoalescedStream, offset, count uint32) ([]T, error) {
	var zero T
	elemSize := uint32(unsafe.Sizeof(zero))
	span := elemSize * count
	if uint64(offset)+uint64(span) > uint64(len(s.buffer)) {
		return nil, &Error{Kind: ErrInvalidDirectoryBounds, Offset: uint64(offset)}
	}
	if count == 0 {
		return nil, nil
	}
	ptr := (*T)(unsafe.Pointer(&s.buffer[offset]))
	return unsafe.Slice(ptr, count), nil
}

// PointerOffset returns the byte offset within this stream's buffer of a
// pointer previously obtained from GetDataAtOffset/GetSliceAtOffset on the
// same stream. It is the inverse of GetDataAtOffset, for resuming iteration
// from a record the caller already holds a pointer to.
func (s *CoalescedStream) PointerOffset(p unsafe.Pointer) (uint32, error) {
	if len(s.buffer) == 0 {
		return 0, &Error{Kind: ErrInvalidDirectoryBounds}
	}
	base := uintptr(unsafe.Pointer(&s.buffer[0]))
	target := uintptr(p)
	if target < base || target-base > uintptr(len(s.buffer)) {
		return 0, &Error{Kind: ErrInvalidDirectoryBounds}
	}
	return uint32(target - base), nil
}
