// Package cmd implements the shepherd command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lukehenning/shepherd/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "shepherd",
	Short: "Supervise a remote coding agent",
	Long: `Shepherd supervises a remote, semi-autonomous coding agent on behalf
of a human operator: it polls the agent's lifecycle status, keeps a
token-budgeted context window current, reviews and merges the agent's
pull requests, and records every step on a live event feed.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/shepherd/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so they hold even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SHEPHERD")
	// SHEPHERD_AGENT_API_KEY overrides agent.api_key, and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Missing config file is fine; defaults and env cover it.
	_ = viper.ReadInConfig()
}
