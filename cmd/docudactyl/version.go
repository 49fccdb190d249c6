// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/dispatch"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of docudactyl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docudactyl %s\n", dispatch.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
