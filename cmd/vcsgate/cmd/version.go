package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/treeverse/vcsgate/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vcsgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vcsgate", version.Version)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
