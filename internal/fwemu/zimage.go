package fwemu

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fwemu/tools/internal/zimage"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

func zimageCmd() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "kernel",
		Use:     "zimage",
		Short:   "Unpack and repack zImage kernel containers",
	}
	cmd.AddCommand(zimageUnpackCmd())
	cmd.AddCommand(zimageRepackCmd())
	return cmd
}

type zimageUnpackImplConfig struct{}

// zimageUnpackCmd is fwemu zimage unpack.
func zimageUnpackCmd() *cobra.Command {
	var impl zimageUnpackImplConfig
	return &cobra.Command{
		Use:   "unpack <zImage> <output>",
		Short: "Extract the compressed kernel from a zImage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
}

func (r *zimageUnpackImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	region, err := zimage.Unpack(b)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(stdout, "compressed kernel at 0x%x, %d bytes reserved, %d bytes unpacked\n",
		region.Offset, region.Reserved, len(region.Kernel))
	return renameio.WriteFile(args[1], region.Kernel, 0644)
}

type zimageRepackImplConfig struct{}

// zimageRepackCmd is fwemu zimage repack.
func zimageRepackCmd() *cobra.Command {
	var impl zimageRepackImplConfig
	return &cobra.Command{
		Use:   "repack <zImage> <kernel> <output>",
		Short: "Replace the compressed kernel in a zImage",
		Long: `Replace the compressed kernel in a zImage.

The new kernel is compressed into the space of the old one; the command fails
if it does not fit.
`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
}

func (r *zimageRepackImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	container, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	kernel, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	out, err := zimage.Repack(container, kernel)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return renameio.WriteFile(args[2], out, 0644)
}
