package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of imgdl",
	Long:  `Display the current version of the app.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("imgdl v2.0.0")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
