package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/concordia/internal/logging"
	"github.com/ppiankov/concordia/internal/model"
)

// Version is set at build time with -ldflags
var Version = "v0.1.0"

var (
	cfgFile         string
	verbose         bool
	metricsTextfile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "concordia",
	Short: "Concordia - documentation reconciliation engine",
	Long: `Concordia ingests documentation into a shared store, finds duplicated and
contradictory content, ranks sources of truth and merges documents with
full provenance.

It does not decide what is true. Every answer carries the sources, claims,
conflicts and signals behind it so a human can check the reasoning.

All commands print JSON on stdout. Logs go to stderr.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logging.Setup(cfg.Logging, verbose)
		return nil
	},
}

// Execute runs the root command. Errors are printed as a JSON error object.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for Concordia.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("concordia " + Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.concordia/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this textfile on exit")
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite store (overrides store.path)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("metrics.textfile_path", rootCmd.PersistentFlags().Lookup("metrics-textfile"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return newUsageError("%v", err)
	})

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig seeds viper with the defaults, then reads the config file and
// CONCORDIA_* environment variables on top
func initConfig() {
	viper.SetConfigType("yaml")
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err == nil {
		_ = viper.ReadConfig(bytes.NewReader(defaults))
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(filepath.Join(home, ".concordia"))
		viper.SetConfigName("config")
	}

	// Read in environment variables that match CONCORDIA_*; nested keys use _
	viper.SetEnvPrefix("CONCORDIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, merge it over the defaults
	if err := viper.MergeInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the merged viper state into a Config
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, model.NewError(model.KindValidation, err, "invalid configuration: %v", err)
	}
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, model.NewError(model.KindValidation, err, "config file %s: %v", cfgFile, err)
		}
	}
	if metricsTextfile != "" {
		cfg.Metrics.TextfilePath = metricsTextfile
	}
	return cfg, nil
}
