package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/kyupark/freegpt/internal/config"
)

var (
	globalCfg   *config.Config
	flagVerbose bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "freegpt",
	Short: "OpenAI-compatible API backed by the free ChatGPT web backend",
	Long: `freegpt serves /v1/chat/completions on top of ChatGPT's anonymous web
backend. No OpenAI account or API key is needed.

Usage:
  freegpt serve                 start the API on :3040
  freegpt serve --tunnel        also expose it on a trycloudflare.com URL
  freegpt solve --seed S --difficulty D
  freegpt usage                 summarize the usage ledger
Settings come from the config file, .env and FREEGPT_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagVerbose {
			cfg.Verbose = true
		}
		globalCfg = cfg
		log.SetPrefix("[freegpt] ")
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.FilePath()+")")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logf routes component logs to the process logger in verbose mode.
func logf() func(string, ...any) {
	if globalCfg == nil || !globalCfg.Verbose {
		return func(string, ...any) {}
	}
	return log.Printf
}
