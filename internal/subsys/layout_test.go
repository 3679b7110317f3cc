package subsys

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("// stub\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanClassifiesFiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "fs", "ext4")
	writeFile(t, filepath.Join(sub, "inode.c"))
	writeFile(t, filepath.Join(sub, "super.c"))
	writeFile(t, filepath.Join(sub, "inode-test.c"))
	writeFile(t, filepath.Join(sub, "mballoc_test.c"))
	writeFile(t, filepath.Join(sub, "ext4.h"))
	writeFile(t, filepath.Join(sub, "Kconfig"))
	writeFile(t, filepath.Join(sub, "Makefile"))

	layout, err := Scan(root, "fs/ext4")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if layout.Name != "ext4" {
		t.Errorf("expected name ext4, got %s", layout.Name)
	}
	if len(layout.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d: %v", len(layout.Sources), layout.Sources)
	}
	if len(layout.Tests) != 2 {
		t.Errorf("expected 2 test files, got %d: %v", len(layout.Tests), layout.Tests)
	}
	if len(layout.Headers) != 1 || len(layout.Kconfig) != 1 || len(layout.Makefiles) != 1 {
		t.Errorf("unexpected classification: %+v", layout)
	}
	if layout.TotalFiles() != 7 {
		t.Errorf("expected 7 total files, got %d", layout.TotalFiles())
	}
}

func TestScanMissingDirectory(t *testing.T) {
	if _, err := Scan(t.TempDir(), "fs/nonexistent"); err == nil {
		t.Error("expected error for missing subsystem directory")
	}
}

func TestScanEmptySubsystem(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "fs", "empty", "Makefile"))
	if _, err := Scan(root, "fs/empty"); err == nil {
		t.Error("expected error when no C sources exist")
	}
}

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"inode-test.c", true},
		{"mballoc_test.c", true},
		{"sysctl-kunit.c", true},
		{"inode.c", false},
		{"test_helpers.c", false},
		{"inode-test.h", false},
	}
	for _, tt := range tests {
		if got := IsTestFile(tt.name); got != tt.want {
			t.Errorf("IsTestFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContainsSource(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "fs", "ext4")
	writeFile(t, filepath.Join(sub, "inode.c"))

	layout, err := Scan(root, "fs/ext4")
	if err != nil {
		t.Fatal(err)
	}

	if !layout.ContainsSource(filepath.Join(sub, "inode.c")) {
		t.Error("subsystem .c file should be contained")
	}
	if layout.ContainsSource(filepath.Join(root, "include", "linux", "fs.h")) {
		t.Error("header outside subsystem should not be contained")
	}
	if layout.ContainsSource(filepath.Join(root, "fs", "jbd2", "journal.c")) {
		t.Error("sibling subsystem .c file should not be contained")
	}
	if !layout.ContainsSource("inode.c") {
		t.Error("relative path inside subsystem should be contained")
	}
}

func TestRel(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "fs", "ext4")
	writeFile(t, filepath.Join(sub, "inode.c"))

	layout, err := Scan(root, "fs/ext4")
	if err != nil {
		t.Fatal(err)
	}

	if got := layout.Rel(filepath.Join(sub, "inode.c")); got != "inode.c" {
		t.Errorf("Rel inside root: got %q, want inode.c", got)
	}
	if got := layout.Rel(filepath.Join(sub, "mmp", "mmp.c")); got != filepath.Join("mmp", "mmp.c") {
		t.Errorf("Rel nested: got %q", got)
	}
	// Paths outside the root and already-relative paths pass through
	outside := filepath.Join(root, "fs", "jbd2", "journal.c")
	if got := layout.Rel(outside); got != outside {
		t.Errorf("Rel outside root should be unchanged, got %q", got)
	}
	if got := layout.Rel("inode.c"); got != "inode.c" {
		t.Errorf("Rel of relative path should be unchanged, got %q", got)
	}
}
