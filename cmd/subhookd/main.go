// Command subhookd receives Stripe subscription webhooks and applies them to
// user profiles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/subhook/internal/config"
)

var (
	envFile string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "subhookd <command>",
	Short:         "Idempotent Stripe subscription webhook processor",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		loaded, err := config.Load(files...)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
