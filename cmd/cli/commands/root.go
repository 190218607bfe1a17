// Package commands implements the convertd CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdfconvert/convertd/pkg/api/v1/client"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagAPIKey        = "api-key"
)

// environment variable names
const (
	envServerAddress = "CONVERTD_SERVER_ADDRESS"
	envAPIKey        = "CONVERTD_API_KEY"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// serverAddress holds the target API server address. Flag parsing sets this.
	serverAddress string
	// apiKey authenticates every request.
	apiKey string
)

// initClient initializes the API client
func initClient() error {
	var err error
	opts := client.DefaultOptions()
	opts.BaseURL = serverAddress
	opts.APIKey = apiKey

	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", client.DefaultBaseURL,
		"Address of the conversion API server (env: CONVERTD_SERVER_ADDRESS)")
	RootCmd.PersistentFlags().StringVarP(&apiKey, flagAPIKey, "k", "",
		"API key (env: CONVERTD_API_KEY)")

	RootCmd.AddCommand(GetJobsCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "convertd-cli",
	Short: "Command line interface for the document conversion API",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed(flagServerAddress) {
			if envAddr := os.Getenv(envServerAddress); envAddr != "" {
				serverAddress = envAddr
			}
		}
		if !cmd.Flags().Changed(flagAPIKey) {
			if envKey := os.Getenv(envAPIKey); envKey != "" {
				apiKey = envKey
			}
		}

		if serverAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		return initClient()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}
