package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/playbook/pkg/diagram"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [playbook.yaml]",
	Short: "Render the step tree of a playbook (mermaid or ascii)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pb, err := schema.LoadFile(args[0])
		if err != nil {
			return err
		}
		out, err := diagram.Generate(pb, diagram.Format(diagramFormat))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	diagramCmd.Flags().StringVarP(&diagramFormat, "format", "f", string(diagram.FormatASCII), "Output format: mermaid or ascii")
}
