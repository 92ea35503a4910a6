package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "procctl",
	Short: "Procctl is a command line tool for interacting with the procplane server",
	Long: `procctl is the command-line interface for the procplane workflow execution server.

Procplane queues, schedules and executes workflow processes: each process
is fetched from a repository, staged into a workspace and dispatched to a
runner agent. Processes can fork children, suspend waiting for other
processes and resume by event.

Common workflows:

  Submit a process:
    procctl submit --repo-url https://example.com/repo.git --entry-point main.sh

  Check process status:
    procctl status <instance-id>

  Cancel a process:
    procctl kill <instance-id>

  Resume a suspended process:
    procctl resume <instance-id> --event <resume-event>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    PROCPLANE_API_URL    API endpoint (default: http://localhost:6161)
    PROCPLANE_TOKEN      Organization API token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".procctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".procctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "PROCPLANE_VARNAME"
	viper.SetEnvPrefix("PROCPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.procctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Procplane server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
