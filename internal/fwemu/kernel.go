package fwemu

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fwemu/tools/internal/armdis"
	"github.com/fwemu/tools/internal/build"
	"github.com/fwemu/tools/internal/config"
	"github.com/fwemu/tools/internal/kpatch"
	"github.com/fwemu/tools/internal/zimage"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

func kernelCmd() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "kernel",
		Use:     "kernel",
		Short:   "Inspect and patch ARM kernel images",
	}
	cmd.AddCommand(kernelBaseCmd())
	cmd.AddCommand(kernelPatchCmd())
	return cmd
}

// readKernel returns the raw kernel in path, unpacking it if it is a zImage.
func readKernel(path string, isZimage bool) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isZimage {
		return b, nil
	}
	r, err := zimage.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r.Kernel, nil
}

type kernelBaseImplConfig struct {
	zimage bool
}

// kernelBaseCmd is fwemu kernel base.
func kernelBaseCmd() *cobra.Command {
	var impl kernelBaseImplConfig
	cmd := &cobra.Command{
		Use:   "base <kernel>",
		Short: "Print the virtual address the kernel image is linked at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.zimage, "zimage", "", false, "the kernel is wrapped in a zImage container")
	return cmd
}

func (r *kernelBaseImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	kernel, err := readKernel(args[0], r.zimage)
	if err != nil {
		return err
	}
	base, err := kpatch.KernelBase(armdis.ARM, kernel)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(stdout, "0x%08x\n", base)
	return nil
}

type kernelPatchImplConfig struct {
	zimage  bool
	console bool
	replace []string
}

// kernelPatchCmd is fwemu kernel patch.
func kernelPatchCmd() *cobra.Command {
	var impl kernelPatchImplConfig
	cmd := &cobra.Command{
		Use:   "patch <kernel> <output>",
		Short: "Enable the serial console and apply literal replacements",
		Long: `Enable the serial console and apply literal replacements.

Examples:
  # Enable the console of a zImage kernel and switch the boot arguments:
  % fwemu kernel patch --zimage --replace=amba2.console=0=amba2.console=1 zImage zImage.patched
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.zimage, "zimage", "", false, "the kernel is wrapped in a zImage container, which is repacked after patching")
	cmd.Flags().BoolVarP(&impl.console, "console", "", true, "patch the console setup to keep the serial console enabled")
	cmd.Flags().StringArrayVarP(&impl.replace, "replace", "", nil, "literal replacement old=new, where old and new have the same length. Can be specified multiple times")
	return cmd
}

// parseReplacement splits old=new. Old and new have the same length, so the
// separator is the = in the middle, and literals may contain = themselves.
func parseReplacement(s string) (config.Replacement, error) {
	mid := len(s) / 2
	if len(s)%2 == 0 || s[mid] != '=' {
		return config.Replacement{}, fmt.Errorf("invalid replacement %q: want old=new with len(old) == len(new)", s)
	}
	return config.Replacement{Old: s[:mid], New: s[mid+1:]}, nil
}

func (r *kernelPatchImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	k := &config.Kernel{
		Path:               args[0],
		Zimage:             r.zimage,
		PatchConsoleEnable: r.console,
	}
	for _, s := range r.replace {
		repl, err := parseReplacement(s)
		if err != nil {
			return err
		}
		k.Replace = append(k.Replace, repl)
	}
	b := build.New(&config.Struct{})
	patched, err := b.Kernel(k)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return renameio.WriteFile(args[1], patched, 0644)
}
