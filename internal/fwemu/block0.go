package fwemu

import (
	"context"
	"fmt"
	"io"

	"github.com/fwemu/tools/internal/nand"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

type block0ImplConfig struct {
	size int
}

// block0Cmd is fwemu block0.
func block0Cmd() *cobra.Command {
	var impl block0ImplConfig
	cmd := &cobra.Command{
		GroupID: "image",
		Use:     "block0 <output>",
		Short:   "Write the NAND boot ROM parameter block",
		Long: `Write the NAND boot ROM parameter block for a device of the given size.

The block is normally prepended to the safe boot region by fwemu build
(GenerateBlock0); this command writes it on its own for inspection.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
		},
	}
	cmd.Flags().IntVarP(&impl.size, "size", "", 0, "NAND device size in bytes, without spare area")
	return cmd
}

func (r *block0ImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if r.size <= 0 {
		return fmt.Errorf("--size must be positive")
	}
	b, err := nand.WriteBlock0(r.size)
	if err != nil {
		return err
	}
	return renameio.WriteFile(args[0], b, 0644)
}
