package cmd

import (
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "thumbd",
	Short:         "Thumbnail worker pool fed from RabbitMQ",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd, submitCmd, benchCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
