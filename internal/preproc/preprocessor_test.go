package preproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kimpact/internal/config"
	"kimpact/internal/logging"
)

func testConfig() config.PreprocessorConfig {
	return config.PreprocessorConfig{
		Enabled:        true,
		Binary:         "gcc",
		TimeoutSeconds: 30,
	}
}

func TestProbeIncludePathsKeepsOnlyExisting(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "include", "uapi"), 0755); err != nil {
		t.Fatal(err)
	}

	paths := probeIncludePaths(root, nil)

	want := map[string]bool{
		filepath.Join(root, "include"):         true,
		filepath.Join(root, "include", "uapi"): true,
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %d: %v", len(want), len(paths), paths)
	}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("unexpected include path %s", p)
		}
	}
}

func TestKernelDefines(t *testing.T) {
	defines := kernelDefines("ext4", []string{"-DCONFIG_EXT4_FS"})

	found := map[string]bool{}
	for _, d := range defines {
		found[d] = true
	}
	for _, want := range []string{"-D__KERNEL__", "-DKBUILD_MODNAME=ext4", "-DCONFIG_EXT4_FS"} {
		if !found[want] {
			t.Errorf("missing define %s in %v", want, defines)
		}
	}
}

func TestRunDisabledUsesIdentityMap(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "thing.c")
	content := "int f(void)\n{\n\treturn 1;\n}\n"
	if err := os.WriteFile(src, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Enabled = false
	p := New(root, cfg, "thing", logging.Nop())

	res, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Fallback {
		t.Error("disabled preprocessor should report fallback")
	}
	if string(res.Source) != content {
		t.Error("raw source should pass through unchanged")
	}
	loc, ok := res.LineMap.Resolve(3)
	if !ok || loc.File != src || loc.Line != 3 {
		t.Errorf("identity map broken: %+v ok=%v", loc, ok)
	}
}

func TestRunFallsBackWhenBinaryMissing(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "thing.c")
	if err := os.WriteFile(src, []byte("int f(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Binary = "definitely-not-a-compiler-xyz"
	p := New(root, cfg, "thing", logging.Nop())

	res, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run should not fail hard on missing binary: %v", err)
	}
	if !res.Fallback {
		t.Error("missing binary should trigger fallback")
	}
	if res.Warning == "" {
		t.Error("fallback should record a warning")
	}
	if res.LineMap.Len() == 0 {
		t.Error("fallback should still carry an identity line map")
	}
}

func TestRunUnreadableFileIsError(t *testing.T) {
	p := New(t.TempDir(), testConfig(), "thing", logging.Nop())
	if _, err := p.Run(context.Background(), "/nonexistent/file.c"); err == nil {
		t.Error("unreadable source file should be a hard error")
	}
}
