// pdbdump is a CLI tool for extracting container-level information from
// Microsoft PDB files: file metadata, PE section headers, compiled-module
// listings, and per-module C13 line tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/coreflux/gopdb/pkg/pdb"
)

func main() {
	// Flags
	showInfo := flag.Bool("info", false, "Show PDB file information")
	showModules := flag.Bool("modules", false, "List all modules")
	showSections := flag.Bool("sections", false, "List PE section headers")
	showAll := flag.Bool("all", false, "Show all information")
	prettyPrint := flag.Bool("pretty", false, "Pretty-print JSON output")
	linesModule := flag.Int("lines", -1, "Show the C13 line table for a module, by index")
	verbose := flag.Bool("verbose", false, "Log recoverable parse anomalies to stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <pdb-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -info file.pdb\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -modules -pretty file.pdb\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -all file.pdb\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -lines 0 file.pdb\n", os.Args[0])
	}

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	pdbPath := flag.Arg(0)

	var opts []pdb.Option
	if *verbose {
		opts = append(opts, pdb.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	}

	p, err := pdb.Open(pdbPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening PDB: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	outputJSON := func(v interface{}) {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetEscapeHTML(false) // Keep &, <, > literal instead of writing them as JSON unicode escapes
		if *prettyPrint {
			encoder.SetIndent("", "  ")
		}
		if err := encoder.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	}

	if *linesModule >= 0 {
		lines, err := p.Lines(*linesModule)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading line table: %v\n", err)
			os.Exit(1)
		}
		outputJSON(lines)
		return
	}

	// Default to showing info if no flags specified
	if !*showInfo && !*showModules && !*showSections && !*showAll {
		*showInfo = true
	}

	result := make(map[string]interface{})

	if *showInfo || *showAll {
		result["info"] = p.Info()
	}

	if *showModules || *showAll {
		result["modules"] = p.Modules()
	}

	if *showSections || *showAll {
		if sh := p.Sections(); sh != nil {
			result["sections"] = sh.All()
		}
	}

	outputJSON(result)
}
