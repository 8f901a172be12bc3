package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Terminal client for the tutoring server",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		session, _ := cmd.Flags().GetString("session")
		audioBackend, _ := cmd.Flags().GetString("audio")
		return runApp(cmd.Context(), serverURL, session, audioBackend)
	},
}

func init() {
	rootCmd.Flags().String("server", "ws://localhost:8700/ws", "websocket endpoint of tutord")
	rootCmd.Flags().String("session", "", "session id (random if empty)")
	rootCmd.Flags().String("audio", "off", "audio backend: miniaudio, portaudio, or off")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
