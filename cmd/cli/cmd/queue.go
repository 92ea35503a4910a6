package cmd

import (
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show process queue counts",
	Long:  `Show how many processes sit in each active queue status.`,
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the PROCPLANE_TOKEN environment variable")
			return
		}

		client := NewProcessClient(url, token)

		metrics, err := client.QueueMetrics()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		statuses := make([]string, 0, len(metrics.CountByStatus))
		for status := range metrics.CountByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)

		var total int64
		for _, status := range statuses {
			count := metrics.CountByStatus[status]
			total += count
			cmd.Printf("%-12s %d\n", status, count)
		}
		cmd.Printf("%-12s %d\n", "TOTAL", total)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
