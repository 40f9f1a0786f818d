// Package pdb provides high-level access to Microsoft PDB debug files,
// built on top of the core pkg/msf container layer and pkg/codeview's C13
// line-table subsection walker.
package pdb

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/coreflux/gopdb/pkg/codeview"
	"github.com/coreflux/gopdb/pkg/msf"
	"github.com/coreflux/gopdb/pkg/streams"
)

// Stream indices
const (
	StreamPDB = 1 // PDB info stream
	StreamTPI = 2 // Type info stream
	StreamDBI = 3 // Debug info stream
	StreamIPI = 4 // ID info stream
)

// PDB represents an opened PDB file: a parsed RawFile plus the streams this
// package knows how to interpret on top of it.
type PDB struct {
	raw      *msf.RawFile
	mapping  mmap.MMap // non-nil only when opened via Open(path)
	logger   *slog.Logger
	pdbInfo  *streams.PDBInfo
	dbi      *streams.DBIStream
	sections *streams.SectionHeaders
}

// Option configures a PDB at open time.
type Option func(*PDB)

// WithLogger sets the logger used to report recoverable parse anomalies.
// A nil logger (the default) discards them.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PDB) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// OpenImage parses the core structures out of a caller-supplied, already
// in-memory PDB image. image must outlive the returned PDB.
func OpenImage(image []byte, opts ...Option) (*PDB, error) {
	raw, err := msf.Open(image)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open MSF: %w", err)
	}

	p := &PDB{raw: raw, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}

	if raw.IsValidStreamIndex(StreamPDB) {
		if cs, err := raw.CreateCoalescedStream(StreamPDB); err == nil && cs.Size() > 0 {
			info, err := streams.ReadPDBInfo(bytes.NewReader(cs.Bytes()))
			if err != nil {
				p.logger.Warn("failed to parse PDB info stream", "error", err)
			} else {
				p.pdbInfo = info
			}
		}
	}

	if raw.IsValidStreamIndex(StreamDBI) {
		if cs, err := raw.CreateCoalescedStream(StreamDBI); err == nil && cs.Size() > 0 {
			dbi, err := streams.ReadDBIStream(cs.Bytes())
			if err != nil {
				p.logger.Warn("failed to parse DBI stream", "error", err)
			} else {
				p.dbi = dbi
				p.loadSections()
			}
		}
	}

	return p, nil
}

// Open opens a PDB file by path, memory-mapping it and parsing its core
// structures. Close unmaps the file.
func Open(path string, opts ...Option) (*PDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to map %s: %w", path, err)
	}

	p, err := OpenImage(m, opts...)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	p.mapping = m
	return p, nil
}

// Close releases any memory mapping obtained by Open. It is a no-op for a
// PDB built with OpenImage.
func (p *PDB) Close() error {
	if p.mapping != nil {
		return p.mapping.Unmap()
	}
	return nil
}

func (p *PDB) loadSections() {
	if p.dbi == nil || p.dbi.SectionHeaderStreamIndex == streams.InvalidStreamIndex {
		return
	}
	idx := uint32(p.dbi.SectionHeaderStreamIndex)
	if !p.raw.IsValidStreamIndex(idx) {
		return
	}
	cs, err := p.raw.CreateCoalescedStream(idx)
	if err != nil || cs.Size() == 0 {
		return
	}
	sh, err := streams.ParseSectionHeaders(cs.Bytes())
	if err != nil {
		p.logger.Warn("failed to parse section headers", "error", err)
		return
	}
	p.sections = sh
}

// Info returns basic PDB file information.
func (p *PDB) Info() *PDBInfo {
	info := &PDBInfo{
		Streams: int(p.raw.StreamCount()),
	}

	if p.pdbInfo != nil {
		info.GUID = p.pdbInfo.GUIDString()
		info.Age = p.pdbInfo.Age
		info.Version = p.pdbInfo.Version
		info.NamedStreams = p.pdbInfo.NamedStreams
	}

	if p.dbi != nil {
		info.Machine = streams.MachineTypeName(p.dbi.Header.Machine)
	}

	return info
}

// Sections returns the parsed PE section-header table, or nil if the DBI
// optional debug header carried no section-header stream.
func (p *PDB) Sections() *streams.SectionHeaders {
	return p.sections
}

// Modules returns structural information about the PDB's compiled
// modules — names, object files, and the location/size of each module's
// symbol-record stream — without interpreting the symbol records
// themselves.
func (p *PDB) Modules() []ModuleInfo {
	if p.dbi == nil {
		return nil
	}

	modules := make([]ModuleInfo, len(p.dbi.Modules))
	for i, mod := range p.dbi.Modules {
		modules[i] = ModuleInfo{
			Name:         mod.ModuleName,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.ModuleSymStream,
			SymbolSize:   mod.SymByteSize,
			SourceFiles:  mod.SourceFileCount,
		}
	}
	return modules
}

// FileLines is one source file's ordered (offset, line) table, decoded from
// a module's C13 line-info subsections.
type FileLines struct {
	FileName string
	Entries  []codeview.LineNumberEntry
}

// Lines walks the C13 line-info subsections of the module at moduleIndex
// and returns, per source file (cross-referenced against the module's
// S_FILECHECKSUMS subsection), its ordered line entries.
func (p *PDB) Lines(moduleIndex int) ([]FileLines, error) {
	if p.dbi == nil || moduleIndex < 0 || moduleIndex >= len(p.dbi.Modules) {
		return nil, fmt.Errorf("pdb: module index %d out of range", moduleIndex)
	}
	mod := p.dbi.Modules[moduleIndex]
	if !mod.HasSymbols() || mod.C13ByteSize == 0 {
		return nil, nil
	}

	c13Start := mod.SymByteSize + mod.C11ByteSize
	cs, err := p.raw.CreateCoalescedStreamSized(uint32(mod.ModuleSymStream), c13Start+mod.C13ByteSize)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open module stream: %w", err)
	}

	walker := codeview.NewModuleLineStream(cs, c13Start)

	checksumNames := map[uint32]string{}
	var lineSections []*codeview.LineSection
	for section := range walker.Sections() {
		lineSections = append(lineSections, section)
		if section.Header.Kind == codeview.SubsectionFileChecksums {
			for fc := range walker.FileChecksums(section) {
				checksumNames[fc.Header.NameOffset] = fmt.Sprintf("checksum@0x%x", fc.Header.NameOffset)
			}
			if err := walker.Err(); err != nil {
				p.logger.Warn("malformed file-checksums subsection", "module", mod.ModuleName, "error", err)
			}
		}
	}
	if err := walker.Err(); err != nil {
		p.logger.Warn("malformed C13 subsection walk", "module", mod.ModuleName, "error", err)
		return nil, err
	}

	byFile := map[uint32]*FileLines{}
	var order []uint32
	for _, section := range lineSections {
		if section.Header.Kind != codeview.SubsectionLines {
			continue
		}
		for block := range walker.LinesBlocks(section) {
			fl, ok := byFile[block.Header.FileID]
			if !ok {
				name := checksumNames[block.Header.FileID]
				if name == "" {
					name = fmt.Sprintf("file@0x%x", block.Header.FileID)
				}
				fl = &FileLines{FileName: name}
				byFile[block.Header.FileID] = fl
				order = append(order, block.Header.FileID)
			}
			fl.Entries = append(fl.Entries, block.Entries...)
		}
		if err := walker.Err(); err != nil {
			p.logger.Warn("malformed lines subsection", "module", mod.ModuleName, "error", err)
			return nil, err
		}
	}

	result := make([]FileLines, 0, len(order))
	for _, id := range order {
		result = append(result, *byFile[id])
	}
	return result, nil
}
