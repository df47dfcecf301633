package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/playbook/pkg/kernel/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Trace file operations",
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}
	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	fmt.Fprintf(out, "  %d actions, %d failed", result.Actions, result.Failed)
	if result.Open > 0 {
		fmt.Fprintf(out, ", %d never finished", result.Open)
	}
	fmt.Fprintln(out)

	if result.ChainHash != "" {
		switch {
		case result.SignatureOK:
			fmt.Fprintf(out, "✓ Signature valid\n")
		case result.SignatureNoKey:
			fmt.Fprintf(out, "⚠ Signature present but no %s set to verify\n", trace.SigningKeyEnv)
		case result.SigningKeyID != "":
			fmt.Fprintf(out, "✗ Signature invalid\n")
			return fmt.Errorf("signature verification failed")
		}
	}
	return nil
}

func init() {
	traceCmd.AddCommand(traceVerifyCmd)
}
