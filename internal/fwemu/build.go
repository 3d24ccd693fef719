package fwemu

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fwemu/tools/internal/build"
	"github.com/fwemu/tools/internal/config"
	"github.com/fwemu/tools/internal/measure"
	"github.com/fwemu/tools/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type buildImplConfig struct {
	profile   string
	outputDir string
}

// buildCmd is fwemu build.
func buildCmd() *cobra.Command {
	var impl buildImplConfig
	cmd := &cobra.Command{
		GroupID: "image",
		Use:     "build",
		Short:   "Build all targets of a build profile",
		Long: `Build all targets of a build profile.

Each target produces one flash image and, optionally, a patched kernel.
Targets are built concurrently; no output is written unless every target
succeeds.

Examples:
  # Build the images described in fwemu.json into the out directory:
  % fwemu build --profile=fwemu.json --output_dir=out
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
	cmd.Flags().StringVarP(&impl.profile, "profile", "", "fwemu.json", "path to the build profile (JSON)")
	cmd.Flags().StringVarP(&impl.outputDir, "output_dir", "", "", "if non-empty, relative output paths are resolved against this directory instead of the profile directory")
	return cmd
}

// relocate moves relative output paths of cfg into dir.
func relocate(cfg *config.Struct, dir string) {
	move := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		move(&t.Output)
		if t.Kernel != nil {
			move(&t.Kernel.Output)
		}
	}
}

func (r *buildImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.ReadFromFile(r.profile)
	if err != nil {
		return err
	}
	if r.outputDir != "" {
		dir, err := filepath.Abs(r.outputDir)
		if err != nil {
			return err
		}
		relocate(cfg, dir)
	}

	logrus.Infof("fwemu %s building %s", version.ReadBrief(), r.profile)
	done := measure.Interactively(fmt.Sprintf("building %d targets", len(cfg.Targets)))
	arts, err := build.New(cfg).All(ctx)
	if err != nil {
		return err
	}
	var total int
	for _, art := range arts {
		total += len(art.Image) + len(art.Kernel)
	}
	done(", " + humanize.Bytes(uint64(total)))

	for _, art := range arts {
		fmt.Fprintf(stdout, "%s: %s\n", art.Target, art.ImagePath)
		if art.KernelPath != "" {
			fmt.Fprintf(stdout, "%s: %s\n", art.Target, art.KernelPath)
		}
	}
	return nil
}
