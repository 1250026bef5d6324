package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the backend it talks to",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s\n", app, version)

		config, err := getConfig()
		if err == nil && config.APIURL != "" {
			fmt.Printf("api: %s\n", config.APIURL)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
