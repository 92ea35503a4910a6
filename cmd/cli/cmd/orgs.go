package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procplane/pkg/api"
)

var createOrgCmd = &cobra.Command{
	Use:   "create-org",
	Short: "Register a new organization",
	Long: `Register a new organization and print its API key.

The key is shown exactly once; only its hash is stored server side.

Example:
  procctl create-org --name acme`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")

		url := viper.GetString("url")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewProcessClient(url, viper.GetString("token"))

		result, err := client.CreateOrg(api.CreateOrgRequest{Name: name})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Create failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Create failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Organization created!\nOrg ID: %s\nAPI Key: %s\n\nStore the key safely, it will not be shown again.\n", result.ID, result.APIKey)
	},
}

func init() {
	createOrgCmd.Flags().StringP("name", "n", "", "Name of the organization (required)")
	rootCmd.AddCommand(createOrgCmd)
}
