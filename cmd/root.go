package cmd

import (
	"fmt"
	"log"
	"os"

	"ChunkFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chunkfm",
	Short: "ChunkFM turns remote audio into chunked, triggerable sound assets.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting ChunkFM server...")
		// server.Start handles its own port and logging for startup.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
