package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "msort",
		Short: "Media Sorter - find files a master drive is missing and recover them safely",
		Long: `msort indexes files on several drives or folders ("sources") by content
fingerprint, finds the files on a target source that have no content match on
a master source ("orphans"), and copies or moves them to a destination with
post-copy verification.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: applyLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/msort.yaml)")
	rootCmd.PersistentFlags().String("db", defaultDB, "index database file")
	rootCmd.PersistentFlags().String("event-log-dir", defaultEventLogDir, "directory for JSONL event logs")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("event-log-dir", rootCmd.PersistentFlags().Lookup("event-log-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("msort")
		viper.SetConfigType("yaml")
	}

	// MSORT_MIN_SIZE overrides min-size, and so on
	viper.SetEnvPrefix("MSORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func applyLogging(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
