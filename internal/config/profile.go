package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"kimpact/internal/kerrors"
)

// SubsystemProfile carries per-subsystem preprocessor overrides stored in
// profiles.toml. Kernel subsystems differ in the feature macros they expect
// (e.g. CONFIG_EXT4_FS vs CONFIG_BTRFS_FS), so the generic defines can be
// extended per subsystem without touching the main config.
type SubsystemProfile struct {
	Subsystem string   `toml:"subsystem"`
	Defines   []string `toml:"defines,omitempty"`
	Includes  []string `toml:"includes,omitempty"`
	ModName   string   `toml:"modname,omitempty"`
}

// Profiles is the on-disk profiles.toml document
type Profiles struct {
	Profile []SubsystemProfile `toml:"profile"`
}

// LoadProfiles reads profiles.toml from the given directory. A missing file
// yields an empty profile set, not an error.
func LoadProfiles(dir string) (*Profiles, error) {
	path := filepath.Join(dir, "profiles.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profiles{}, nil
		}
		return nil, kerrors.New(kerrors.ConfigInvalid, "reading profiles.toml", err)
	}

	var p Profiles
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, kerrors.New(kerrors.ConfigInvalid, "parsing profiles.toml", err)
	}
	return &p, nil
}

// For returns the profile matching the subsystem path, or nil.
// Matching compares the trailing path component ("fs/ext4" matches "ext4").
func (p *Profiles) For(subsystem string) *SubsystemProfile {
	for i := range p.Profile {
		prof := &p.Profile[i]
		if prof.Subsystem == subsystem || prof.Subsystem == filepath.Base(subsystem) {
			return prof
		}
	}
	return nil
}

// Apply merges the profile's overrides into the preprocessor config
func (p *SubsystemProfile) Apply(cfg *PreprocessorConfig) {
	cfg.ExtraDefines = append(cfg.ExtraDefines, p.Defines...)
	cfg.ExtraIncludes = append(cfg.ExtraIncludes, p.Includes...)
}

// ModuleName returns the KBUILD_MODNAME for a subsystem, preferring the
// profile override and falling back to the last path component.
func ModuleName(subsystem string, prof *SubsystemProfile) string {
	if prof != nil && prof.ModName != "" {
		return prof.ModName
	}
	name := filepath.Base(strings.TrimSuffix(subsystem, "/"))
	if name == "." || name == "" {
		return "kernel"
	}
	return name
}
