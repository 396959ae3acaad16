package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "github.com/kyupark/freegpt/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage the config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(globalCfg.Masked())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long:  "Set a config value. Keys: " + strings.Join(cfgpkg.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		value := args[1]

		// Start from the file alone so environment overrides are not persisted.
		fileCfg, err := cfgpkg.LoadFile(flagConfig)
		if err != nil {
			return err
		}
		if err := fileCfg.Set(key, value); err != nil {
			return err
		}
		if err := cfgpkg.Save(fileCfg, flagConfig); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "set %s=%s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := flagConfig
		if path == "" {
			path = cfgpkg.FilePath()
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
