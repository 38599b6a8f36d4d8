package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JohnPlummer/jp-go-guard/config"
)

var (
	configPath, logLevel string
	timeout              int
)

var rootCommand = &cobra.Command{
	Use:   "guardsim",
	Short: "guardsim: retry and circuit breaker playground",
	Long: `guardsim drives a deterministic flaky dependency through the retry and
circuit breaker guards so the effect of a policy can be seen before it ships.

Settings are read from --config and GUARD_* environment variables.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCommand.Execute()
}

func init() {
	rootCommand.AddGroup(&cobra.Group{ID: "guard", Title: "Guard"})

	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML, JSON or TOML guard config")
	rootCommand.PersistentFlags().IntVar(&timeout, "timeout", 0, "Global execution timeout in seconds (0 = run indefinitely)")
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "", "Logging level (debug, info, warn, error); overrides the config")

	_ = viper.BindPFlag("config", rootCommand.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("timeout", rootCommand.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("log-level", rootCommand.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
}

// loadConfig loads the guard config, letting the flags override it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}
