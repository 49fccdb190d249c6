// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/cache/l1"
	"github.com/pdiddy/docudactyl/internal/cache/l2"
	"github.com/pdiddy/docudactyl/internal/conduit"
	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local and shared caches",
}

var cacheCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openL1()
		if err != nil {
			return err
		}
		defer s.Close()
		n, err := s.Count(ctx)
		if err != nil {
			return err
		}
		size, err := s.SizeBytes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("l1: %d entries (%d bytes) in %s\n", n, size, s.Path())

		c, err := l2.Connect(ctx, cfg.L2, logger)
		if err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		defer c.Close()
		n, err = c.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("l2: %d entries (%s %s)\n", n, cfg.L2.Backend, cfg.L2.Endpoint)
		return nil
	},
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Checkpoint the local cache to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openL1()
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Sync(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("synced:", s.Path())
		return nil
	},
}

var cacheLookupCmd = &cobra.Command{
	Use:   "lookup <path>",
	Short: "Show the cached result for a file in its current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheLookup,
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an inventory of the local cache as YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openL1()
		if err != nil {
			return err
		}
		defer s.Close()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return s.ExportJSON(cmd.Context(), os.Stdout)
		}
		return s.ExportYAML(cmd.Context(), os.Stdout)
	},
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the local cache database",
	Long: `Reset removes the local cache database and its write-ahead log. Use it
after a corruption error; the next parse recreates an empty cache. The shared
cache is not touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Cache.Dir == "" {
			return fmt.Errorf("no cache directory configured")
		}
		if err := l1.Destroy(cfg.Cache.Dir); err != nil {
			return err
		}
		fmt.Println("reset:", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	cacheLookupCmd.Flags().Bool("json", false, "print as JSON")
	cacheExportCmd.Flags().Bool("json", false, "export as JSON instead of YAML")

	cacheCmd.AddCommand(cacheCountCmd, cacheSyncCmd, cacheLookupCmd, cacheExportCmd, cacheResetCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openL1() (*l1.Store, error) {
	if cfg.Cache.Dir == "" {
		return nil, fmt.Errorf("no cache directory configured")
	}
	s, err := l1.Open(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'docudactyl cache reset')", err)
	}
	return s, nil
}

type lookupOutput struct {
	Key    l1.Key            `json:"key" yaml:"key"`
	Tier   string            `json:"tier" yaml:"tier"`
	Result types.ParseResult `json:"result" yaml:"result"`
	Stages *stages.Results   `json:"stages,omitempty" yaml:"stages,omitempty"`
}

func runCacheLookup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := conduit.Process(args[0])
	if !c.Valid() {
		return fmt.Errorf("%s: %s", c.Validation, args[0])
	}
	s, err := openL1()
	if err != nil {
		return err
	}
	defer s.Close()

	asJSON, _ := cmd.Flags().GetBool("json")
	key := l1.KeyFor(c)
	entry, ok, err := s.LookupEntry(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		out := lookupOutput{Key: key, Tier: "l1", Result: entry.Result}
		if len(entry.Stages) > 0 {
			if out.Stages, err = stages.Decode(entry.Stages); err != nil {
				return err
			}
		}
		return printValue(os.Stdout, asJSON, out)
	}

	shared, err := l2.Connect(ctx, cfg.L2, logger)
	if err != nil {
		return err
	}
	defer shared.Close()
	if r, ok := shared.Lookup(ctx, c.SHA256); ok {
		return printValue(os.Stdout, asJSON, lookupOutput{Key: key, Tier: "l2", Result: r})
	}
	return fmt.Errorf("not cached: %s", args[0])
}
