package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/kernel/validate"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var validateCmd = &cobra.Command{
	Use:   "validate [playbook.yaml]",
	Short: "Validate a playbook: structure, body schema and action names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		pb, errs := validate.ValidateFile(args[0], a.registry)
		return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], pb, errs)
	},
}

func report(out, errOut io.Writer, file string, pb *schema.Playbook, errs []*validate.ValidationError) error {
	var failed []*validate.ValidationError
	for _, e := range errs {
		if e.Severity == validate.SeverityWarning {
			fmt.Fprintf(errOut, "  %s [%s] %s\n", warnStyle.Render("⚠"), e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(errOut, "    %s\n", dimStyle.Render("at: "+e.Path))
			}
			continue
		}
		failed = append(failed, e)
	}
	if len(failed) > 0 {
		fmt.Fprintf(errOut, "%s\n\n", errStyle.Render(fmt.Sprintf("Validation failed: %d error(s)", len(failed))))
		for i, e := range failed {
			fmt.Fprintf(errOut, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(errOut, "     %s\n", dimStyle.Render("at: "+e.Path))
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(failed))
	}
	count := 0
	pb.Walk(func(*schema.Playbook) { count++ })
	fmt.Fprintf(out, "%s %s is valid (%d actions)\n", okStyle.Render("✓"), file, count)
	return nil
}

var schemaCmd = &cobra.Command{
	Use:       "schema [playbook|action]",
	Short:     "Print a JSON Schema (playbook node body by default)",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"playbook", "action"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := "playbook"
		if len(args) == 1 {
			kind = args[0]
		}
		var data []byte
		var err error
		switch kind {
		case "playbook":
			data, err = schema.GeneratePlaybookJSONSchema()
		case "action":
			data, err = schema.GenerateActionSpecJSONSchema()
		default:
			return fmt.Errorf("unknown schema type %q, use 'playbook' or 'action'", kind)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "playbook %s (%s)\n", version, commit)
	},
}
