// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/dispatch"
	"github.com/pdiddy/docudactyl/pkg/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch [inputs...]",
	Short: "Parse many documents in parallel",
	Long: `Batch parses every input with the configured number of workers, hinting
the prefetcher ahead of them. Inputs come from the arguments and from
--list (one path per line, "-" for stdin). With --output-dir each document's
text is written there as <name>.<format>.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("list", "", "file with one input path per line (- for stdin)")
	batchCmd.Flags().String("output-dir", "", "directory for extracted text")
	batchCmd.Flags().String("format", "text", "output file format: text, json or yaml")
	batchCmd.Flags().String("with-stages", "", "stages for every document (default: stages.default)")

	rootCmd.AddCommand(batchCmd)
}

func readList(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("opening list: %w", err)
		}
		defer f.Close()
	}
	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			paths = append(paths, line)
		}
	}
	return paths, sc.Err()
}

func outputName(input string, format types.OutputFormat) string {
	base := filepath.Base(input)
	switch format {
	case types.FormatJSON:
		return base + ".json"
	case types.FormatYAML:
		return base + ".yaml"
	}
	return base + ".txt"
}

func runBatch(cmd *cobra.Command, args []string) error {
	format, flags, err := parseRequestFlags(cmd)
	if err != nil {
		return err
	}
	inputs := append([]string(nil), args...)
	if list, _ := cmd.Flags().GetString("list"); list != "" {
		more, err := readList(list)
		if err != nil {
			return err
		}
		inputs = append(inputs, more...)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("provide one or more input paths or --list")
	}
	outDir, _ := cmd.Flags().GetString("output-dir")

	reqs := make([]dispatch.Request, len(inputs))
	for i, in := range inputs {
		reqs[i] = dispatch.Request{Input: in, Format: format, Stages: flags}
		if outDir != "" {
			reqs[i].Output = filepath.Join(outDir, outputName(in, format))
		}
	}

	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.ParseBatch(ctx, reqs, os.Stdout)
	if err != nil {
		return fmt.Errorf("%w (run 'docudactyl cache reset')", err)
	}
	if result.HasFailures() {
		return fmt.Errorf("%d document(s) failed", result.Failed)
	}
	return nil
}
