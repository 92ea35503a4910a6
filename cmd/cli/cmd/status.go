package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [instance_id]",
	Short: "Get status of a process",
	Long:  `Retrieve detailed status information for a process, including its current queue status, exclusive group, error message and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instanceID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the PROCPLANE_TOKEN environment variable")
			return
		}

		client := NewProcessClient(url, token)

		process, err := client.GetProcess(instanceID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		printStatus(cmd, *process)
	},
}

func printStatus(cmd *cobra.Command, process api.ProcessResponse) {
	icon := statusIcon(process.Status)
	cmd.Printf("%s %sProcess Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sInstance ID:%s  %s\n", colorDim, colorReset, process.InstanceID)
	cmd.Printf("%sKind:%s         %s\n", colorDim, colorReset, process.Kind)
	cmd.Printf("%sStatus:%s       %s\n", colorDim, colorReset, colorizeStatus(process.Status))

	if process.ParentInstanceID != "" {
		cmd.Printf("%sParent:%s       %s\n", colorDim, colorReset, process.ParentInstanceID)
	}
	if process.ExclusiveGroup != "" {
		cmd.Printf("%sGroup:%s        %s\n", colorDim, colorReset, process.ExclusiveGroup)
	}
	if process.Initiator != "" {
		cmd.Printf("%sInitiator:%s    %s\n", colorDim, colorReset, process.Initiator)
	}
	if process.Error != "" {
		cmd.Printf("%sError:%s        %s%s%s\n", colorDim, colorReset, colorRed, process.Error, colorReset)
	}

	cmd.Printf("%sCreated:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(process.CreatedAt))
	cmd.Printf("%sUpdated:%s      %s %s(%s)%s\n", colorDim, colorReset,
		formatTimeWithRelative(process.LastUpdatedAt),
		colorCyan, formatDuration(process.LastUpdatedAt.Sub(process.CreatedAt)), colorReset)

	if len(process.OutVars) > 0 {
		cmd.Printf("%sOut:%s\n", colorDim, colorReset)
		for k, v := range process.OutVars {
			cmd.Printf("  %s = %v\n", k, v)
		}
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "FINISHED":
		return colorGreen + "✓" + colorReset
	case "FAILED", "TIMED_OUT":
		return colorRed + "✗" + colorReset
	case "CANCELLED":
		return colorRed + "⊘" + colorReset
	case "RUNNING", "RESUMING":
		return colorYellow + "⏳" + colorReset
	case "SUSPENDED":
		return colorCyan + "⏸" + colorReset
	case "NEW", "ENQUEUED", "STARTING":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "FINISHED":
		return icon + " " + colorGreen + status + colorReset
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return icon + " " + colorRed + status + colorReset
	case "RUNNING", "RESUMING":
		return icon + " " + colorYellow + status + colorReset
	case "NEW", "ENQUEUED", "STARTING", "SUSPENDED":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	relative := relativeTime(t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
