// Package preproc runs an external C preprocessor over kernel translation
// units and rebuilds original source locations from the emitted line markers.
package preproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"kimpact/internal/config"
	"kimpact/internal/kerrors"
	"kimpact/internal/logging"
)

// Preprocessor invokes cpp (via gcc -E) with kernel-appropriate defines and
// include paths probed from the kernel tree.
type Preprocessor struct {
	kernelRoot   string
	binary       string
	timeout      time.Duration
	includePaths []string
	defines      []string
	enabled      bool
	logger       *logging.Logger
}

// Result is the outcome of preprocessing one translation unit. A failed or
// skipped preprocessor run falls back to the raw source with an identity
// line map; Fallback and Warning record that degradation.
type Result struct {
	Source   []byte
	LineMap  *LineMap
	Fallback bool
	Warning  string
}

// New builds a Preprocessor for the given kernel tree. modname becomes
// KBUILD_MODNAME, matching how kbuild compiles the subsystem.
func New(kernelRoot string, cfg config.PreprocessorConfig, modname string, logger *logging.Logger) *Preprocessor {
	p := &Preprocessor{
		kernelRoot: kernelRoot,
		binary:     cfg.Binary,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		enabled:    cfg.Enabled,
		logger:     logger.With(map[string]interface{}{"component": "preproc"}),
	}
	if p.binary == "" {
		p.binary = "gcc"
	}
	if p.timeout <= 0 {
		p.timeout = 60 * time.Second
	}

	p.includePaths = probeIncludePaths(kernelRoot, cfg.ExtraIncludes)
	p.defines = kernelDefines(modname, cfg.ExtraDefines)
	return p
}

// probeIncludePaths assembles the conventional kernel include directories,
// keeping only those that exist under the tree.
func probeIncludePaths(kernelRoot string, extra []string) []string {
	candidates := []string{
		filepath.Join(kernelRoot, "include"),
		filepath.Join(kernelRoot, "include", "uapi"),
		filepath.Join(kernelRoot, "arch", "arm64", "include"),
		filepath.Join(kernelRoot, "arch", "arm64", "include", "generated"),
		filepath.Join(kernelRoot, "arch", "arm64", "include", "uapi"),
		filepath.Join(kernelRoot, "arch", "arm64", "include", "generated", "uapi"),
		filepath.Join(kernelRoot, "arch", "x86", "include"),
		filepath.Join(kernelRoot, "arch", "x86", "include", "generated"),
		filepath.Join(kernelRoot, "arch", "x86", "include", "uapi"),
		filepath.Join(kernelRoot, "include", "asm-generic"),
	}
	candidates = append(candidates, extra...)

	var existing []string
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			existing = append(existing, c)
		}
	}
	return existing
}

func kernelDefines(modname string, extra []string) []string {
	defines := []string{
		"-D__KERNEL__",
		"-DCONFIG_64BIT",
		"-DCONFIG_SMP",
		"-DKBUILD_MODNAME=" + modname,
		"-D__KERNEL_PRINTK__",
		"-D__linux__",
	}
	return append(defines, extra...)
}

// Run preprocesses one source file. Preprocessor failure or timeout never
// returns an error: the raw source with an identity line map is returned
// instead, so one stubborn file degrades accuracy rather than aborting the
// batch. Only an unreadable source file is a hard error.
func (p *Preprocessor) Run(ctx context.Context, sourceFile string) (*Result, error) {
	raw, err := os.ReadFile(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}

	if !p.enabled {
		return &Result{
			Source:   raw,
			LineMap:  IdentityLineMap(sourceFile, raw),
			Fallback: true,
		}, nil
	}

	expanded, runErr := p.invoke(ctx, sourceFile)
	if runErr != nil {
		warning := runErr.Error()
		p.logger.Warn("preprocessing failed, falling back to raw parse", map[string]interface{}{
			"file":  sourceFile,
			"error": warning,
		})
		return &Result{
			Source:   raw,
			LineMap:  IdentityLineMap(sourceFile, raw),
			Fallback: true,
			Warning:  warning,
		}, nil
	}

	return &Result{
		Source:  expanded,
		LineMap: BuildLineMap(expanded),
	}, nil
}

// invoke runs the preprocessor binary with the per-file timeout.
func (p *Preprocessor) invoke(ctx context.Context, sourceFile string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-E"}
	args = append(args, p.defines...)
	for _, inc := range p.includePaths {
		args = append(args, "-I", inc)
	}
	args = append(args, "-nostdinc", sourceFile)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Dir = p.kernelRoot

	p.logger.Debug("running preprocessor", map[string]interface{}{
		"file":    sourceFile,
		"timeout": p.timeout.String(),
	})

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, kerrors.New(kerrors.PreprocessTimeout,
				"preprocessing timed out for "+filepath.Base(sourceFile), err)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, kerrors.New(kerrors.PreprocessFailed,
				"preprocessor exited non-zero: "+truncate(string(exitErr.Stderr), 300), err)
		}
		return nil, kerrors.New(kerrors.PreprocessFailed, "invoking preprocessor", err)
	}

	return output, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
