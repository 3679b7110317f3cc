package preproc

import (
	"bytes"
	"regexp"
	"strconv"
)

// SourceLocation is a point in original (pre-expansion) source.
type SourceLocation struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// LineMap maps line numbers in expanded text back to original source
// locations. Built once per translation unit and immutable afterwards.
type LineMap struct {
	entries map[int]SourceLocation
	size    int
}

// Line markers emitted by cpp: # <linenum> "<file>" [flags]
var markerRe = regexp.MustCompile(`^#\s+(\d+)\s+"([^"]*)"`)

// BuildLineMap scans preprocessor line markers in expanded text and records
// one entry per expanded line. The scanner keeps two accumulators: the
// current original file, reset on each marker, and the current original
// line, set to the marker's operand and incremented for every body line
// until the next marker. Lines before the first marker stay unmapped.
func BuildLineMap(expanded []byte) *LineMap {
	lines := bytes.Split(expanded, []byte("\n"))
	m := &LineMap{
		entries: make(map[int]SourceLocation, len(lines)),
		size:    len(lines),
	}

	currentFile := ""
	currentLine := 0

	for i, line := range lines {
		expandedLine := i + 1
		if match := markerRe.FindSubmatch(line); match != nil {
			n, err := strconv.Atoi(string(match[1]))
			if err != nil {
				continue
			}
			// The marker's operand numbers the NEXT line
			currentLine = n - 1
			currentFile = string(match[2])
			continue
		}
		if currentFile == "" {
			continue
		}
		currentLine++
		m.entries[expandedLine] = SourceLocation{File: currentFile, Line: currentLine}
	}

	return m
}

// IdentityLineMap maps every expanded line N to (file, N). Used when the
// preprocessor is skipped or fails and raw source is parsed directly.
func IdentityLineMap(file string, source []byte) *LineMap {
	n := bytes.Count(source, []byte("\n")) + 1
	m := &LineMap{
		entries: make(map[int]SourceLocation, n),
		size:    n,
	}
	for i := 1; i <= n; i++ {
		m.entries[i] = SourceLocation{File: file, Line: i}
	}
	return m
}

// Resolve maps an expanded line number to its original location.
func (m *LineMap) Resolve(expandedLine int) (SourceLocation, bool) {
	loc, ok := m.entries[expandedLine]
	return loc, ok
}

// Len returns the number of mapped lines.
func (m *LineMap) Len() int {
	return len(m.entries)
}
