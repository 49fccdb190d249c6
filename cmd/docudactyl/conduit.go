// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/conduit"
)

var conduitCmd = &cobra.Command{
	Use:   "conduit <paths...>",
	Short: "Validate and fingerprint documents without extracting them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConduit,
}

func init() {
	conduitCmd.Flags().Bool("json", false, "print results as JSON")
	conduitCmd.Flags().Bool("yaml", false, "print results as YAML")

	rootCmd.AddCommand(conduitCmd)
}

func runConduit(cmd *cobra.Command, args []string) error {
	res := conduit.ProcessBatch(cmd.Context(), args, cfg.Workers)

	asJSON, _ := cmd.Flags().GetBool("json")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	if asJSON || asYAML {
		if err := printValue(os.Stdout, asJSON, res.Results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tKIND\tVALIDATION\tSIZE\tMIME\tSHA256")
		for _, r := range res.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.Path, r.Kind, r.Validation, r.FileSize, r.MIMEType, r.SHA256)
		}
		tw.Flush()
		fmt.Printf("\n%d valid, %d invalid (total: %d)\n", res.Valid, res.Invalid(), len(res.Results))
	}
	if res.Invalid() > 0 {
		return fmt.Errorf("%d path(s) failed validation", res.Invalid())
	}
	return nil
}
