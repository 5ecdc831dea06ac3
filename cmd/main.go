package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/companion/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "companion",
		Short:         "Headless client for the companion server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect, serve the control API and chat from the terminal",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd)
			},
		},
		newCheckoutCmd(),
		newExportCmd(),
		newDeleteAccountCmd(),
	)
	return root
}
