package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the context cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c := openCache(cfg, dir)
		s := c.Stats()

		out := cmd.OutOrStdout()
		printCacheStats(out, s)
		if s.Enabled {
			fmt.Fprintf(out, "TTL:  %v\n", s.TTL)
			fmt.Fprintf(out, "Blob: %s\n", s.BlobPath)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c := openCache(cfg, dir)
		n := c.Len()
		c.Clear()
		green.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
