// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/dispatch"
	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse <input>",
	Short: "Parse one document",
	Long: `Parse validates and fingerprints a document, returns a cached result when
the local or shared cache has one, and otherwise runs the extraction backend
for its content kind. With --output the extracted text is written in the
chosen format and stage results are written next to it as
<output>.stages.json (or .stages.yaml).`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringP("output", "o", "", "write extracted text to this path")
	parseCmd.Flags().String("format", "text", "output file format: text, json or yaml")
	parseCmd.Flags().String("with-stages", "", "stages for this document (default: stages.default)")
	parseCmd.Flags().Bool("json", false, "print the result as JSON instead of YAML")

	rootCmd.AddCommand(parseCmd)
}

// parseRequestFlags reads the flags shared by parse and batch.
func parseRequestFlags(cmd *cobra.Command) (types.OutputFormat, types.StageFlags, error) {
	f, _ := cmd.Flags().GetString("format")
	format, ok := types.ParseOutputFormat(f)
	if !ok {
		return 0, 0, fmt.Errorf("unknown format %q (want text, json or yaml)", f)
	}
	s, _ := cmd.Flags().GetString("with-stages")
	flags, err := types.ParseStageFlags(s)
	if err != nil {
		return 0, 0, err
	}
	return format, flags, nil
}

type parseOutput struct {
	Result types.ParseResult `json:"result" yaml:"result"`
	Status string            `json:"status" yaml:"status"`
	Stages *stages.Results   `json:"stages,omitempty" yaml:"stages,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	format, flags, err := parseRequestFlags(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, st, err := e.Parse(ctx, dispatch.Request{Input: args[0], Output: output, Format: format, Stages: flags})
	if err != nil {
		return fmt.Errorf("%w (run 'docudactyl cache reset')", err)
	}
	if err := printValue(os.Stdout, asJSON, parseOutput{Result: res, Status: res.Status.String(), Stages: st}); err != nil {
		return err
	}
	if !res.OK() {
		return errors.New(res.ErrorMsg)
	}
	return nil
}
