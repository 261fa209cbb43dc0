package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/mihaimyh/subhook/storage/postgres"
)

var databaseURL string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending postgres schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := pgstore.Migrate(url); err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := pgstore.MigrateDown(url); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (default from config)")
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func migrationURL() (string, error) {
	if databaseURL != "" {
		return databaseURL, nil
	}
	if cfg != nil && cfg.Storage.PostgresURL != "" {
		return cfg.Storage.PostgresURL, nil
	}
	return "", errors.New("no postgres URL: set SUBHOOK_POSTGRES_URL or --database-url")
}

func printVersion(cmd *cobra.Command, url string) error {
	version, dirty, err := pgstore.SchemaVersion(url)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if dirty {
		fmt.Fprintf(out, "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(out, "schema version %d\n", version)
	return nil
}
