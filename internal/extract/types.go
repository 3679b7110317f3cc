package extract

import "kimpact/internal/preproc"

// FunctionDef is a function definition candidate with its location already
// remapped to original source.
type FunctionDef struct {
	Name      string
	File      string // Original .c file, relative to the subsystem root
	StartLine int
	EndLine   int
	IsStatic  bool
}

// CallSite is a raw call record. The caller is identified by position in the
// FileExtraction's Functions slice; callee resolution happens downstream in
// the assembler.
type CallSite struct {
	CallerIdx int // Index into FileExtraction.Functions
	Callee    string
	Location  preproc.SourceLocation
}

// FileExtraction is the per-translation-unit output of the extractor.
type FileExtraction struct {
	File      string // Translation unit, relative to the subsystem root
	Functions []FunctionDef
	Calls     []CallSite

	// Degradation and filtering statistics
	ParseDegraded      bool
	PreprocFallback    bool
	PreprocWarning     string
	DroppedHeaderDefs  int // Definitions remapped outside subsystem .c files
	DroppedOrphanCalls int // Calls with no enclosing function
	DroppedHeaderCalls int // Calls remapped outside subsystem .c files
}
