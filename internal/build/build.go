// Package build turns a build profile target into a flash image and,
// optionally, a patched kernel.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
	"github.com/dustin/go-humanize"
	"github.com/fwemu/tools/internal/archive"
	"github.com/fwemu/tools/internal/armdis"
	"github.com/fwemu/tools/internal/config"
	"github.com/fwemu/tools/internal/emmc"
	"github.com/fwemu/tools/internal/kpatch"
	"github.com/fwemu/tools/internal/nand"
	"github.com/fwemu/tools/internal/onenand"
	"github.com/fwemu/tools/internal/zimage"
	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("service", "build")

// Artifacts are the files produced for one target.
type Artifacts struct {
	Target string

	Image     []byte
	ImagePath string

	// Kernel is nil unless the target writes the patched kernel to a file.
	Kernel     []byte
	KernelPath string
}

// Builder builds targets of one profile.
type Builder struct {
	Cfg     *config.Struct
	Decoder armdis.Decoder
}

func New(cfg *config.Struct) *Builder {
	return &Builder{Cfg: cfg, Decoder: armdis.ARM}
}

func (b *Builder) read(p string) ([]byte, error) {
	if p == "" {
		return nil, nil
	}
	return os.ReadFile(b.Cfg.Path(p))
}

// Kernel reads and patches the kernel of t.
func (b *Builder) Kernel(k *config.Kernel) ([]byte, error) {
	in, err := b.read(k.Path)
	if err != nil {
		return nil, err
	}
	patch := func(kernel []byte) ([]byte, error) {
		if k.PatchConsoleEnable {
			kernel, err = kpatch.PatchConsoleEnable(b.Decoder, kernel)
			if err != nil {
				return nil, fmt.Errorf("console enable patch: %w", err)
			}
		}
		repls := make([]kpatch.Replacement, len(k.Replace))
		for i, r := range k.Replace {
			repls[i] = kpatch.Replacement{Old: r.Old, New: r.New}
		}
		return kpatch.ReplaceLiterals(kernel, repls)
	}
	if !k.Zimage {
		return patch(in)
	}
	return zimage.Patch(in, patch)
}

func (b *Builder) data(t *config.Target, kernel []byte) ([]byte, error) {
	if t.DataFAT == nil {
		return b.read(t.Data)
	}
	a, err := archive.ReadDir(b.Cfg.Path(t.DataFAT.Dir))
	if err != nil {
		return nil, err
	}
	if t.Kernel != nil && t.Kernel.ArchivePath != "" {
		a.Write(t.Kernel.ArchivePath, kernel)
	}
	log.WithField("target", t.Name).Debugf("data file system: %v", a)
	return a.WriteFAT(t.DataFAT.Size)
}

// Build produces the artifacts of t without writing them.
func (b *Builder) Build(t *config.Target) (*Artifacts, error) {
	tlog := log.WithField("target", t.Name)
	art := &Artifacts{
		Target:    t.Name,
		ImagePath: b.Cfg.Path(t.Output),
	}

	var kernel []byte
	if t.Kernel != nil {
		var err error
		kernel, err = b.Kernel(t.Kernel)
		if err != nil {
			return nil, fmt.Errorf("%s: kernel %s: %w", t.Name, t.Kernel.Path, err)
		}
		if t.Kernel.Output != "" {
			art.Kernel = kernel
			art.KernelPath = b.Cfg.Path(t.Kernel.Output)
		}
	}

	data, err := b.data(t, kernel)
	if err != nil {
		return nil, fmt.Errorf("%s: data: %w", t.Name, err)
	}
	boot, err := b.read(t.Boot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}

	tlog.Infof("assembling %s image of %s", t.Chip, humanize.Bytes(uint64(t.Size)))
	switch t.Chip {
	case config.ChipNAND:
		safeBoot, err := b.read(t.SafeBoot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		if t.GenerateBlock0 {
			block0, err := nand.WriteBlock0(t.Size)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", t.Name, err)
			}
			safeBoot = append(block0, safeBoot...)
		}
		normalBoot, err := b.read(t.NormalBoot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		img, err := nand.Write(safeBoot, normalBoot, data, t.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		art.Image = img.Data

	case config.ChipOneNAND:
		img, err := onenand.Write(boot, data, t.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		art.Image = img.Data

	case config.ChipOneNANDFlat:
		img, err := onenand.WriteFlat(data, t.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		art.Image = img.Data

	case config.ChipEMMC:
		art.Image, err = emmc.Write(boot, data, t.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}

	default:
		return nil, fmt.Errorf("BUG: unhandled chip %q", t.Chip)
	}
	return art, nil
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, b, 0644); err != nil {
		return err
	}
	log.Infof("wrote %s (%s, xxh64 %016x)", path, humanize.Bytes(uint64(len(b))), xxhash.Sum64(b))
	return nil
}

// Write stores the artifacts atomically.
func (a *Artifacts) Write() error {
	if a.Kernel != nil {
		if err := writeFile(a.KernelPath, a.Kernel); err != nil {
			return err
		}
	}
	return writeFile(a.ImagePath, a.Image)
}

// All builds every target of the profile concurrently. Nothing is written
// unless all targets built successfully.
func (b *Builder) All(ctx context.Context) ([]*Artifacts, error) {
	arts := make([]*Artifacts, len(b.Cfg.Targets))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range b.Cfg.Targets {
		i := i
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			art, err := b.Build(&b.Cfg.Targets[i])
			if err != nil {
				return err
			}
			arts[i] = art
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, art := range arts {
		if err := art.Write(); err != nil {
			return nil, err
		}
	}
	return arts, nil
}
