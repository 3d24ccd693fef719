// Package fwemu implements the fwemu command line interface.
package fwemu

import (
	"fmt"

	"github.com/fwemu/tools/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func RootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "fwemu",
		Short: "assemble flash images and patch kernels for emulated devices",
		Long: `The fwemu tool prepares firmware for running in an emulator:

1. Assemble NAND, OneNAND and eMMC images from partition files (fwemu build),
2. Locate the load address of an ARM kernel (fwemu kernel base),
3. Enable the serial console in a kernel image (fwemu kernel patch),
4. Unpack and repack zImage containers (fwemu zimage).
`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(lvl)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			versionVal, err := cmd.Flags().GetBool("version")
			if err != nil {
				return fmt.Errorf("BUG: version flag declared as non-bool")
			}
			if versionVal {
				fmt.Fprintln(cmd.OutOrStdout(), version.Read())
				return nil
			}
			return pflag.ErrHelp
		},
	}
	rootCmd.AddGroup(&cobra.Group{
		ID:    "image",
		Title: "Commands to assemble flash images:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "kernel",
		Title: "Commands to inspect and modify kernels:",
	})
	rootCmd.Flags().Bool("version", false, "print fwemu version")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log_level", "", "info", "log level (one of panic, fatal, error, warn, info, debug, trace)")
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(block0Cmd())
	rootCmd.AddCommand(kernelCmd())
	rootCmd.AddCommand(zimageCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}
