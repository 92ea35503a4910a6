package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var killCmd = &cobra.Command{
	Use:   "kill [instance_id]",
	Short: "Cancel a process",
	Long: `Cancel a process. Terminal processes are left untouched; anything
else is moved to CANCELLED, including suspended processes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the PROCPLANE_TOKEN environment variable")
			return
		}

		client := NewProcessClient(url, token)

		if err := client.KillProcess(instanceID); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Kill failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Kill failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Process %s cancelled\n", instanceID)
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
