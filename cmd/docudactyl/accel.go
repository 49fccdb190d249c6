// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/accel"
	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/pkg/types"
)

var accelCmd = &cobra.Command{
	Use:   "accel",
	Short: "Show the ML execution provider and model availability",
	Long: `Accel probes the container runtime and accelerators once, prints the
selected ML execution provider, and lists which stage models are present in
ml.models_dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := container.DetectRuntime()
		if err != nil {
			fmt.Fprintf(os.Stderr, "container runtime: %v\n", err)
			rt = nil
		}
		d := accel.New(cfg.ML, rt, logger)
		p := d.Init()
		fmt.Printf("provider:  %s\n", p)
		fmt.Printf("available: %t\n", d.Available())
		fmt.Printf("models:    %s\n", cfg.ML.ModelsDir)
		for _, stage := range []types.MLStage{
			types.StageNER, types.StageTranscription, types.StageImageClassify,
			types.StageLayout, types.StageHandwriting,
		} {
			file := accel.ModelFile(stage)
			state := "present"
			if _, err := os.Stat(filepath.Join(cfg.ML.ModelsDir, file)); err != nil {
				state = "missing"
			}
			fmt.Printf("  %-15s %-22s %s\n", stage, file, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accelCmd)
}
