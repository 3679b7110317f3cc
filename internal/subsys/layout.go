// Package subsys discovers the file layout of a kernel subsystem: which
// files are translation units to ingest, which are KUnit tests to hand to
// the test mapper, and which are build/metadata files.
package subsys

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kimpact/internal/kerrors"
)

// Layout describes the classified contents of a subsystem directory
type Layout struct {
	Name      string   // Last component of the subsystem path
	Path      string   // Absolute path to the subsystem root
	Sources   []string // Non-test .c files, absolute paths
	Tests     []string // KUnit test files
	Headers   []string // .h files
	Kconfig   []string // Kconfig* files
	Makefiles []string // Makefile*
}

// IsTestFile reports whether a file follows the KUnit test naming
// convention. Both the modern "-test.c"/"-kunit.c" suffixes and the older
// "_test.c" form appear in the tree.
func IsTestFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, "-test.c") ||
		strings.HasSuffix(base, "_test.c") ||
		strings.HasSuffix(base, "-kunit.c")
}

// Scan walks the subsystem directory under kernelRoot and classifies every
// file. Nested directories are included; hidden directories are skipped.
func Scan(kernelRoot, subsystem string) (*Layout, error) {
	root := filepath.Join(kernelRoot, subsystem)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, kerrors.New(kerrors.SubsystemInvalid,
			"subsystem directory does not exist: "+root, err)
	}

	layout := &Layout{
		Name: filepath.Base(subsystem),
		Path: root,
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		name := info.Name()
		switch {
		case IsTestFile(name):
			layout.Tests = append(layout.Tests, path)
		case strings.HasSuffix(name, ".c"):
			layout.Sources = append(layout.Sources, path)
		case strings.HasSuffix(name, ".h"):
			layout.Headers = append(layout.Headers, path)
		case strings.HasPrefix(name, "Kconfig"):
			layout.Kconfig = append(layout.Kconfig, path)
		case strings.HasPrefix(name, "Makefile"):
			layout.Makefiles = append(layout.Makefiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, kerrors.New(kerrors.SubsystemInvalid, "walking subsystem directory", err)
	}

	// Deterministic order regardless of filesystem iteration
	sort.Strings(layout.Sources)
	sort.Strings(layout.Tests)
	sort.Strings(layout.Headers)

	if len(layout.Sources) == 0 && len(layout.Tests) == 0 {
		return nil, kerrors.New(kerrors.SubsystemInvalid,
			"no C sources found under "+root, nil)
	}

	return layout, nil
}

// TotalFiles returns the number of classified files
func (l *Layout) TotalFiles() int {
	return len(l.Sources) + len(l.Tests) + len(l.Headers) + len(l.Kconfig) + len(l.Makefiles)
}

// Rel returns path relative to the subsystem root. Stored and exported
// locations use this form so graphs stay portable across machines. Paths
// outside the root (or when no root is known) come back unchanged.
func (l *Layout) Rel(path string) string {
	if l.Path == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(l.Path, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// ContainsSource reports whether the given original-source path is a .c file
// physically under the subsystem root. Used by extraction to drop
// header-originated artifacts.
func (l *Layout) ContainsSource(path string) bool {
	if !strings.HasSuffix(path, ".c") {
		return false
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(l.Path, path)
	}
	rel, err := filepath.Rel(l.Path, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
