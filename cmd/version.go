package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kpfgw",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kpfgw version %s\n", rootCmd.Version)
		},
	}
}
