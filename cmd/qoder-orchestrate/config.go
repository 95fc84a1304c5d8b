package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
)

var (
	initUser  bool
	initForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create configuration files",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(cfg.Sources) == 0 {
			faint.Fprintln(out, "# built-in defaults")
		}
		for _, src := range cfg.Sources {
			faint.Fprintf(out, "# from %s\n", src)
		}
		fmt.Fprint(out, string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if initUser {
			path = config.UserConfigPath()
		} else {
			dir, err := filepath.Abs(projectDir)
			if err != nil {
				return err
			}
			path = config.ProjectConfigPath(dir)
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		green.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the user and project config locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(projectDir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.UserConfigPath())
		fmt.Fprintf(out, "project: %s\n", config.ProjectConfigPath(dir))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initUser, "user", false, "write the user config instead of the project config")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}
