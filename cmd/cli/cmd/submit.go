package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procplane/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new process",
	Long: `Submit a new workflow process for execution.

The repository is fetched, staged into a workspace and dispatched to a
runner agent. The command returns the assigned instance ID immediately;
use 'procctl status' to follow the process.

Example:
  procctl submit --repo-url https://example.com/flows.git --entry-point main.sh
  procctl submit --repo-url https://example.com/flows.git --branch release --arg env=prod --profile nightly
  procctl submit --repo-url https://example.com/flows.git --exclusive-group deploy --project 7a0f...`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		repoURL, _ := flags.GetString("repo-url")
		branch, _ := flags.GetString("branch")
		commit, _ := flags.GetString("commit")
		entryPoint, _ := flags.GetString("entry-point")
		projectID, _ := flags.GetString("project")
		profiles, _ := flags.GetStringSlice("profile")
		argPairs, _ := flags.GetStringSlice("arg")
		exclusiveGroup, _ := flags.GetString("exclusive-group")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the PROCPLANE_TOKEN environment variable")
			return
		}

		if repoURL == "" {
			cmd.Println("Error: --repo-url is required")
			return
		}

		configuration := map[string]interface{}{}
		if len(argPairs) > 0 {
			arguments := map[string]interface{}{}
			for _, pair := range argPairs {
				k, v, found := strings.Cut(pair, "=")
				if !found {
					cmd.Printf("Error: invalid --arg %q, expected key=value\n", pair)
					return
				}
				arguments[k] = v
			}
			configuration["arguments"] = arguments
		}
		if len(profiles) > 0 {
			configuration["activeProfiles"] = profiles
		}
		if exclusiveGroup != "" {
			configuration["exclusiveGroup"] = exclusiveGroup
		}

		client := NewProcessClient(url, token)

		result, err := client.StartProcess(api.StartProcessRequest{
			ProjectID:     projectID,
			RepoURL:       repoURL,
			CommitID:      commit,
			CommitBranch:  branch,
			EntryPoint:    entryPoint,
			Configuration: configuration,
		})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Process submitted!\nInstance ID: %s\n", result.InstanceID)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("repo-url", "r", "", "Repository URL holding the workflow (required)")
	flags.String("branch", "", "Branch to check out (optional)")
	flags.String("commit", "", "Commit ID to check out (optional)")
	flags.StringP("entry-point", "e", "", "Entry point script relative to the workspace root (optional)")
	flags.String("project", "", "Project ID the process belongs to (optional)")
	flags.StringSlice("profile", []string{}, "Active profile, repeatable (optional)")
	flags.StringSlice("arg", []string{}, "Process argument as key=value, repeatable (optional)")
	flags.String("exclusive-group", "", "Exclusive group name, requires --project (optional)")

	rootCmd.AddCommand(submitCmd)
}
