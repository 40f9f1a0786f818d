package msf

import (
	"bytes"
	"encoding/binary"
)

// Magic is the fixed 32-byte signature at the start of every MSF 7.00 file.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// SuperBlockSize is the on-disk size of the fixed SuperBlock layout.
const SuperBlockSize = 56

// ValidBlockSizes are the block sizes an MSF file is allowed to declare.
var ValidBlockSizes = [...]uint32{512, 1024, 2048, 4096}

// SuperBlock is a typed view over the first block of an MSF image. All
// offsets and block counts elsewhere are computed using BlockSize.
type SuperBlock struct {
	BlockSize                  uint32
	FreeBlockMapBlockIndex     uint32
	BlockCount                 uint32
	DirectorySize              uint32
	Unknown                    uint32
	DirectoryIndicesBlockIndex uint32
}

// ParseSuperBlock validates and decodes the SuperBlock at the start of
// image. It never retains a reference to image.
func ParseSuperBlock(image []byte) (*SuperBlock, error) {
	if len(image) < SuperBlockSize {
		return nil, &Error{Kind: ErrImageTooSmall}
	}

	if !bytes.Equal(image[:len(Magic)], Magic) {
		return nil, &Error{Kind: ErrInvalidSuperBlockMagic}
	}

	sb := &SuperBlock{
		BlockSize:                  binary.LittleEndian.Uint32(image[32:36]),
		FreeBlockMapBlockIndex:     binary.LittleEndian.Uint32(image[36:40]),
		BlockCount:                 binary.LittleEndian.Uint32(image[40:44]),
		DirectorySize:              binary.LittleEndian.Uint32(image[44:48]),
		Unknown:                    binary.LittleEndian.Uint32(image[48:52]),
		DirectoryIndicesBlockIndex: binary.LittleEndian.Uint32(image[52:56]),
	}

	if !isValidBlockSize(sb.BlockSize) {
		return nil, &Error{Kind: ErrInvalidBlockSize}
	}

	if uint64(len(image)) < uint64(sb.BlockCount)*uint64(sb.BlockSize) {
		return nil, &Error{Kind: ErrImageTooSmall}
	}

	return sb, nil
}

// DirectoryBlockCount returns the number of blocks needed to hold the
// stream directory.
func (sb *SuperBlock) DirectoryBlockCount() uint32 {
	return ConvertSizeToBlockCount(sb.DirectorySize, sb.BlockSize)
}

func isValidBlockSize(size uint32) bool {
	for _, v := range ValidBlockSizes {
		if v == size {
			return true
		}
	}
	return false
}
