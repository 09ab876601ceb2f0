package cmd

import (
	"log"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "llm-tool-test",
		Short:   "Evaluate how well coding agents use a command-line tool",
		Version: version,
	}
	root.SetVersionTemplate("llm-tool-test {{.Version}}\n")
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newScenariosCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newCleanCmd())
	return root
}

// loadConfig reads the config, falling back to built-in defaults when the
// default path is absent, and loads the secrets file into the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if n, err := config.LoadSecrets(cfg.Secrets.EnvFile); err != nil {
		log.Printf("warning: could not load secrets: %v", err)
	} else if n > 0 {
		log.Printf("loaded %d secret(s) from %s", n, cfg.Secrets.EnvFile)
	}
	return cfg, nil
}
