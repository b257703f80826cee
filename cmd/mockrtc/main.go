package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "mockrtc",
		Short: "Scriptable mock WebRTC peers for integration testing",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
