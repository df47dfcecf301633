package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
)

// workerCmd is the child side of run --isolated: one request on stdin, one
// response line on stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Execute one playbook request from stdin (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()
		return engine.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.engineOptions()...)
	},
}
