package cmd

import (
	"ChunkFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动ChunkFM服务器",
	Long:  `启动ChunkFM的HTTP服务器，提供采集API、播放调度API和平台桥接WebSocket`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
