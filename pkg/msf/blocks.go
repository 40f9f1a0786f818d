// Package msf implements parsing for Microsoft's Multi-Stream Format (MSF)
// container, the block-based file format underlying a PDB.
package msf

// ConvertSizeToBlockCount returns the number of blockSize-sized blocks
// needed to hold size bytes. A size of zero needs zero blocks.
func ConvertSizeToBlockCount(size, blockSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// ConvertBlockIndexToFileOffset returns the byte offset of the start of the
// given block. The multiply is widened to 64 bits before it happens so that
// large block indices on small files never overflow a uint32.
func ConvertBlockIndexToFileOffset(blockIndex, blockSize uint32) uint64 {
	return uint64(blockIndex) * uint64(blockSize)
}

// RoundUpToMultiple rounds value up to the next multiple of m. m must be a
// power of two.
func RoundUpToMultiple(value, m uint64) uint64 {
	return (value + m - 1) &^ (m - 1)
}
