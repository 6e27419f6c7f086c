package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tally/internal/config"
)

var (
	cfgFile string
	// v holds the configuration of the running command. initConfig builds
	// it anew for every execution.
	v = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "A calendar ledger rendered on the server and kept live in the browser",
	Long: `Tally keeps a ledger of dated income and expenses and shows it as a month
calendar with daily and per-category totals.

The page is rendered on the server. Browsers receive a snapshot and then
small patches over a WebSocket as entries are added, removed or imported.

Quick Start:
  tally serve                     Start the server on localhost:8080
  tally render > page.html        Render the current month once
  tally config show               Show the resolved configuration

Configuration is read from .tally.yml, TALLY_ environment variables
(TALLY_SERVER_PORT, TALLY_LEDGER_DB_PATH, ...) and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyBindings(v, cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tally.yml, can also use TALLY_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "auto", "log format (auto, text, json)")
	bindPersistentFlag(rootCmd, "log-level", "log.level")
	bindPersistentFlag(rootCmd, "log-format", "log.format")
}

// initConfig prepares the configuration of one execution.
//
// The config file is, in order:
//  1. the --config flag
//  2. the TALLY_CONFIG_FILE environment variable
//  3. .tally.yml in the current directory
//
// Environment variables override the file (TALLY_SERVER_PORT=9000).
// Flags the command was run with are bound before it runs and override
// both.
func initConfig() {
	v = viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".tally")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Cannot read config file:", err)
	}
}
