package main

import (
	"fmt"
	"os"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "hsr",
		Short: "History restorer - rebuild Home Assistant long-term statistics from snapshots",
		Long: `hsr (history restorer) rebuilds purged Home Assistant long-term statistics
from a series of recorder database snapshots. It extracts the raw sensor history
of every snapshot, checks the snapshots agree on metadata and schema, merges the
histories and writes an SQL script that re-inserts the lost hourly statistics.

Every stage is resumable: finished files are recorded in a state database and
skipped on the next run.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/example.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().String("db", "hsr-state.db", "state database file")
	rootCmd.PersistentFlags().String("work-dir", "work", "directory for extracted and merged files")
	rootCmd.PersistentFlags().StringP("output", "o", "restore.sql", "SQL script to write")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("work_dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	// .env values become HSR_* variables before viper reads the environment
	if err := config.LoadDotEnv(envFile); err != nil {
		util.WarnLog("%v", err)
	}

	config.Bind(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("example")
		viper.SetConfigType("yaml")
	}

	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		util.ErrorLog("Cannot read config file %s: %v", cfgFile, err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
