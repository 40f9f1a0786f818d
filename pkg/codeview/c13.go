package codeview

import (
	"encoding/binary"
	"iter"

	"github.com/coreflux/gopdb/pkg/msf"
)

// Debug subsection kinds. Only S_LINES and S_FILECHECKSUMS are walked; any
// other kind is still yielded by Sections (so callers can skip it) but has
// no dedicated sub-iterator.
const (
	SubsectionLines         uint32 = 0xf2
	SubsectionFileChecksums uint32 = 0xf4
)

// DebugSubsectionHeader precedes every subsection body in a module's C13
// line-info stream.
type DebugSubsectionHeader struct {
	Kind uint32
	Size uint32
}

// LineSection is one subsection: its header plus the raw, unparsed body
// bytes (length header.Size), already bounds-checked against the owning
// stream.
type LineSection struct {
	Header DebugSubsectionHeader
	Offset uint32 // offset of Header within the stream
	Body   []byte
}

// LinesHeader is the fixed header immediately following the subsection
// header in an S_LINES body (CodeView's CV_DebugSLinesHeader_t).
type LinesHeader struct {
	Offset   uint32
	Segment  uint16
	Flags    uint16
	CodeSize uint32
}

// LineBlockHeader is spec's LinesFileBlockHeader: one file's worth of line
// records within an S_LINES subsection. Size already includes this header
// and the records that follow it.
type LineBlockHeader struct {
	FileID    uint32
	LineCount uint32
	Size      uint32
}

// LineNumberEntry is one decoded (offset, line number) record following a
// LineBlockHeader.
type LineNumberEntry struct {
	Offset       uint32
	LineNumStart uint32 // bit 0..23 line number, bit 24..30 delta, bit 31 statement flag
}

// LineBlock carries a decoded LinesFileBlockHeader plus its line records.
type LineBlock struct {
	Header  LineBlockHeader
	Entries []LineNumberEntry
}

// FileChecksumHeader precedes checksumSize checksum bytes in an
// S_FILECHECKSUMS body.
type FileChecksumHeader struct {
	NameOffset   uint32
	ChecksumSize uint8
	ChecksumKind uint8
}

// FileChecksum is one decoded checksum entry.
type FileChecksum struct {
	Header   FileChecksumHeader
	Checksum []byte
}

const debugSubsectionHeaderSize = 8

// ModuleLineStream walks the C13 debug subsections of a single module's
// line-info stream. It is constructed over a CoalescedStream (the module's
// already-sized/truncated stream view) and the byte offset at which C13
// data begins within it.
type ModuleLineStream struct {
	stream   *msf.CoalescedStream
	c13Start uint32
	err      error
}

// NewModuleLineStream builds a walker over stream, starting subsection
// iteration at byte offset c13Offset.
func NewModuleLineStream(stream *msf.CoalescedStream, c13Offset uint32) *ModuleLineStream {
	return &ModuleLineStream{stream: stream, c13Start: c13Offset}
}

// Err returns the error recorded by the most recently completed iteration,
// if any subsection, lines-block, or file-checksum walk detected malformed
// input. It is cleared at the start of every new Sections/LinesBlocks/
// FileChecksums call.
func (m *ModuleLineStream) Err() error {
	return m.err
}

// Sections iterates the subsection headers of the stream in order, per
// spec's forEachSection advancement rule: next = roundUpToMultiple(current +
// sizeof(header) + header.size, 4), terminating once next >= stream size.
func (m *ModuleLineStream) Sections() iter.Seq[*LineSection] {
	return func(yield func(*LineSection) bool) {
		m.err = nil
		size := m.stream.Size()
		current := m.c13Start

		for current < size {
			hdr, err := m.readSubsectionHeader(current)
			if err != nil {
				m.err = err
				return
			}

			bodyStart := current + debugSubsectionHeaderSize
			bodyEnd := uint64(bodyStart) + uint64(hdr.Size)
			if bodyEnd > uint64(size) {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
				return
			}

			section := &LineSection{
				Header: *hdr,
				Offset: current,
				Body:   m.stream.Bytes()[bodyStart:bodyEnd],
			}
			if !yield(section) {
				return
			}

			next := msf.RoundUpToMultiple(uint64(current)+debugSubsectionHeaderSize+uint64(hdr.Size), 4)
			if next <= uint64(current) {
				// Defensive only: the 8-byte header alone always moves
				// next past current, even when header.Size is 0.
				return
			}
			current = uint32(next)
		}
	}
}

func (m *ModuleLineStream) readSubsectionHeader(offset uint32) (*DebugSubsectionHeader, error) {
	if uint64(offset)+debugSubsectionHeaderSize > uint64(m.stream.Size()) {
		return nil, &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(offset)}
	}
	return msf.GetDataAtOffset[DebugSubsectionHeader](m.stream, offset)
}

// LinesBlocks iterates the LinesFileBlockHeader(+records) entries inside an
// S_LINES section, per spec's forEachLinesBlock rule. Precondition:
// section.Header.Kind == SubsectionLines.
func (m *ModuleLineStream) LinesBlocks(section *LineSection) iter.Seq[*LineBlock] {
	return func(yield func(*LineBlock) bool) {
		m.err = nil
		if section.Header.Kind != SubsectionLines {
			return
		}

		const linesHeaderSize = 12
		start := msf.RoundUpToMultiple(uint64(section.Offset)+debugSubsectionHeaderSize+linesHeaderSize, 4)
		end := msf.RoundUpToMultiple(uint64(section.Offset)+debugSubsectionHeaderSize+uint64(section.Header.Size), 4)

		current := uint32(start)
		for uint64(current) < end {
			hdrPtr, err := msf.GetDataAtOffset[LineBlockHeader](m.stream, current)
			if err != nil {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current), Err: err}
				return
			}
			hdr := *hdrPtr

			if hdr.Size < 12 || uint64(current)+uint64(hdr.Size) > end {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
				return
			}

			entries, err := m.decodeLineEntries(current+12, hdr.LineCount)
			if err != nil {
				m.err = err
				return
			}

			block := &LineBlock{Header: hdr, Entries: entries}
			if !yield(block) {
				return
			}

			next := msf.RoundUpToMultiple(uint64(current)+uint64(hdr.Size), 4)
			if next <= uint64(current) {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
				return
			}
			current = uint32(next)
		}

		if uint64(current) != end {
			m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
		}
	}
}

// readFileChecksumHeader decodes a FileChecksumHeader field-by-field rather
// than overlaying the struct: FileChecksumHeader is 6 bytes on the wire, but
// Go pads it to 8 for uint32 alignment, so a typed overlay would demand 2
// bytes beyond what the last entry in a section actually has.
func (m *ModuleLineStream) readFileChecksumHeader(offset uint32) (FileChecksumHeader, error) {
	const checksumHeaderSize = 6
	buf := m.stream.Bytes()
	if uint64(offset)+checksumHeaderSize > uint64(len(buf)) {
		return FileChecksumHeader{}, &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(offset)}
	}
	return FileChecksumHeader{
		NameOffset:   binary.LittleEndian.Uint32(buf[offset : offset+4]),
		ChecksumSize: buf[offset+4],
		ChecksumKind: buf[offset+5],
	}, nil
}

func (m *ModuleLineStream) decodeLineEntries(offset, count uint32) ([]LineNumberEntry, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := msf.GetSliceAtOffset[LineNumberEntry](m.stream, offset, count)
	if err != nil {
		return nil, &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(offset), Err: err}
	}
	entries := make([]LineNumberEntry, len(raw))
	copy(entries, raw)
	return entries, nil
}

// FileChecksums iterates the FileChecksumHeader(+bytes) entries inside an
// S_FILECHECKSUMS section, per spec's forEachFileChecksum rule.
// Precondition: section.Header.Kind == SubsectionFileChecksums.
func (m *ModuleLineStream) FileChecksums(section *LineSection) iter.Seq[*FileChecksum] {
	return func(yield func(*FileChecksum) bool) {
		m.err = nil
		if section.Header.Kind != SubsectionFileChecksums {
			return
		}

		start := msf.RoundUpToMultiple(uint64(section.Offset)+debugSubsectionHeaderSize, 4)
		end := msf.RoundUpToMultiple(uint64(section.Offset)+debugSubsectionHeaderSize+uint64(section.Header.Size), 4)

		const checksumHeaderSize = 6
		current := uint32(start)
		for uint64(current) < end {
			hdr, err := m.readFileChecksumHeader(current)
			if err != nil {
				m.err = err
				return
			}

			checksumStart := uint64(current) + checksumHeaderSize
			checksumEnd := checksumStart + uint64(hdr.ChecksumSize)
			if checksumEnd > end {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
				return
			}

			entry := &FileChecksum{
				Header:   hdr,
				Checksum: m.stream.Bytes()[checksumStart:checksumEnd],
			}
			if !yield(entry) {
				return
			}

			next := msf.RoundUpToMultiple(checksumEnd, 4)
			if next <= uint64(current) {
				m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
				return
			}
			current = uint32(next)
		}

		if uint64(current) != end {
			m.err = &msf.Error{Kind: msf.ErrMalformedSubsection, Offset: uint64(current)}
		}
	}
}
