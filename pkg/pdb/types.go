// Package pdb provides high-level access to Microsoft PDB debug files.
package pdb

// ModuleInfo represents information about a compiled module.
type ModuleInfo struct {
	Name          string `json:"name"`
	ObjectFile    string `json:"object_file"`
	SymbolStream  uint16 `json:"symbol_stream"`
	SymbolSize    uint32 `json:"symbol_size"`
	SourceFiles   uint16 `json:"source_files"`
}

// PDBInfo contains basic PDB file information.
type PDBInfo struct {
	GUID      string            `json:"guid"`
	Age       uint32            `json:"age"`
	Version   uint32            `json:"version"`
	Machine   string            `json:"machine"`
	Streams   int               `json:"streams"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}
