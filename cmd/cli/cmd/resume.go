package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procplane/pkg/api"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [instance_id]",
	Short: "Resume a suspended process",
	Long: `Resume a suspended process by firing its resume event.

A suspended process persists a wait condition naming the event it
resumes on. The watcher normally fires it when the awaited processes
finish; this command fires it by hand.

Example:
  procctl resume 7a0f... --event ev_b81c`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := args[0]
		event, _ := cmd.Flags().GetString("event")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the PROCPLANE_TOKEN environment variable")
			return
		}

		client := NewProcessClient(url, token)

		if err := client.ResumeProcess(instanceID, api.ResumeProcessRequest{ResumeEvent: event}); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Resume failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Resume failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Process %s resumed\n", instanceID)
	},
}

func init() {
	resumeCmd.Flags().StringP("event", "e", "", "Resume event name (required when the process is waiting on one)")
	rootCmd.AddCommand(resumeCmd)
}
