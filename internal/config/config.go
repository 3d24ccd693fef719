// Package config reads build profiles: JSON files describing which input
// files go into which flash image.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "config")

// Chip families.
const (
	ChipNAND        = "nand"
	ChipOneNAND     = "onenand"
	ChipOneNANDFlat = "onenand-flat"
	ChipEMMC        = "emmc"
)

type Replacement struct {
	Old string
	New string
}

type Kernel struct {
	Path               string
	Zimage             bool          `json:",omitempty"` // kernel is wrapped in a zImage
	PatchConsoleEnable bool          `json:",omitempty"`
	Replace            []Replacement `json:",omitempty"`

	// Output receives the patched kernel, e.g. for passing it to the
	// emulator directly.
	Output string `json:",omitempty"`
	// ArchivePath places the patched kernel into the DataFAT file system.
	ArchivePath string `json:",omitempty"`
}

// FAT builds a partition from a host directory.
type FAT struct {
	Dir  string
	Size int
}

type Target struct {
	Name string
	Chip string
	Size int // device size in bytes, without spare area

	Boot       string `json:",omitempty"` // onenand, emmc
	SafeBoot   string `json:",omitempty"` // nand
	NormalBoot string `json:",omitempty"` // nand
	// GenerateBlock0 prepends the boot ROM parameter block to SafeBoot.
	GenerateBlock0 bool `json:",omitempty"`

	Data    string `json:",omitempty"`
	DataFAT *FAT   `json:",omitempty"`

	Kernel *Kernel `json:",omitempty"`

	Output string
}

type Struct struct {
	Targets []Target

	// Dir is the directory the profile was read from. Relative paths in
	// the profile are resolved against it.
	Dir string `json:"-"`
}

// Path resolves a path from the profile.
func (s *Struct) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Dir, p)
}

func (t *Target) Validate() error {
	switch t.Chip {
	case ChipNAND:
		if t.Boot != "" {
			return fmt.Errorf("target %s: chip %s has no Boot region, use SafeBoot and NormalBoot", t.Name, t.Chip)
		}
	case ChipOneNAND, ChipEMMC:
		if t.SafeBoot != "" || t.NormalBoot != "" || t.GenerateBlock0 {
			return fmt.Errorf("target %s: SafeBoot, NormalBoot and GenerateBlock0 are only valid for chip %s", t.Name, ChipNAND)
		}
	case ChipOneNANDFlat:
		if t.Boot != "" || t.SafeBoot != "" || t.NormalBoot != "" || t.GenerateBlock0 {
			return fmt.Errorf("target %s: chip %s has no boot region", t.Name, t.Chip)
		}
	default:
		return fmt.Errorf("target %s: unknown chip %q", t.Name, t.Chip)
	}
	if t.Size <= 0 {
		return fmt.Errorf("target %s: Size must be positive", t.Name)
	}
	if t.Output == "" {
		return fmt.Errorf("target %s: Output not set", t.Name)
	}
	if t.Data != "" && t.DataFAT != nil {
		return fmt.Errorf("target %s: Data and DataFAT are mutually exclusive", t.Name)
	}
	if k := t.Kernel; k != nil {
		if k.Path == "" {
			return fmt.Errorf("target %s: Kernel.Path not set", t.Name)
		}
		if k.ArchivePath != "" && t.DataFAT == nil {
			return fmt.Errorf("target %s: Kernel.ArchivePath requires DataFAT", t.Name)
		}
	}
	return nil
}

// Parse decodes a profile holding either a single target or an object with
// a Targets list.
func Parse(b []byte) (*Struct, error) {
	var cfg Struct
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		var t Target
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, err
		}
		cfg.Targets = []Target{t}
	}
	names := make(map[string]bool)
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s-%d", t.Chip, i)
		}
		if names[t.Name] {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		names[t.Name] = true
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func ReadFromFile(path string) (*Struct, error) {
	log.Infof("reading build profile from %s", path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(abs)
	return cfg, nil
}
