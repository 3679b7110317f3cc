package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	origVersion := Version
	origCommit := Commit
	defer func() {
		Version = origVersion
		Commit = origCommit
	}()

	Version = "1.2.3"
	Commit = "unknown"
	if got := Info(); got != "1.2.3" {
		t.Errorf("Info() with unknown commit = %q", got)
	}

	Commit = "abcdef1234567890"
	if got := Info(); got != "1.2.3 (abcdef1)" {
		t.Errorf("Info() with commit = %q", got)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	for _, want := range []string{"kimpact version", "Commit:", "Built:"} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() missing %q: %s", want, full)
		}
	}
}
