// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/accel"
	"github.com/pdiddy/docudactyl/internal/stages"
)

var cryptoCmd = &cobra.Command{
	Use:   "crypto",
	Short: "Hashing hardware detection and batch fingerprinting",
}

var cryptoDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print detected hashing features and the selected SHA-256 tier",
	Run: func(cmd *cobra.Command, args []string) {
		caps := accel.Detect()
		fmt.Printf("tier:     %s\n", caps.Tier)
		fmt.Printf("features: %v\n", caps.FeatureNames())
	},
}

var cryptoHashCmd = &cobra.Command{
	Use:   "hash <paths...>",
	Short: "Compute SHA-256 fingerprints for files in parallel lanes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, h := range accel.BatchSHA256(cmd.Context(), args) {
			if h.Err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "failed:  %s (%v)\n", h.Path, h.Err)
				continue
			}
			fmt.Printf("%s  %s\n", h.SHA256, h.Path)
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) could not be hashed", failed)
		}
		return nil
	},
}

var (
	proveRoot string
	proveJSON bool
)

var cryptoProveCmd = &cobra.Command{
	Use:   "prove <path> <chunk>",
	Short: "Print the Merkle audit path for one 64 KiB chunk of a file",
	Long: `Rebuilds the file's Merkle tree and prints the proof for the given
chunk. With --root the file must still hash to that root.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid chunk index %q: %w", args[1], err)
		}
		m, err := stages.MerkleFile(args[0])
		if err != nil {
			return fmt.Errorf("building merkle tree: %w", err)
		}
		if proveRoot != "" {
			m.Root = proveRoot
		}
		chunk, proof, err := m.Prove(args[0], index)
		if err != nil {
			return err
		}
		return printValue(os.Stdout, proveJSON, map[string]any{
			"root":        m.Root,
			"leaf_count":  m.LeafCount,
			"chunk":       index,
			"chunk_bytes": len(chunk),
			"proof":       proof,
			"verified":    stages.Verify(chunk, proof, m.Root),
		})
	},
}

func init() {
	cryptoProveCmd.Flags().StringVar(&proveRoot, "root", "", "Expected Merkle root (hex)")
	cryptoProveCmd.Flags().BoolVar(&proveJSON, "json", false, "Print JSON instead of YAML")
	cryptoCmd.AddCommand(cryptoDetectCmd, cryptoHashCmd, cryptoProveCmd)
	rootCmd.AddCommand(cryptoCmd)
}
