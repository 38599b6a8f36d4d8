package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	GuardVersion, GuardCommit, GuardDate string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash and build date",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("guardsim version: %s\n", GuardVersion)
		fmt.Printf("Commit: %s\n", GuardCommit)
		fmt.Printf("Built: %s\n", GuardDate)
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
