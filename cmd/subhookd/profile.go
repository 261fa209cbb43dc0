package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect subscription profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print a profile's subscription columns as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cfg)
		b, err := openBackend(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		return showProfile(cmd, b.reader, args[0])
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
}

func showProfile(cmd *cobra.Command, reader subhook.ProfileReader, userID string) error {
	if reader == nil {
		return errors.New("storage backend cannot read profiles")
	}
	p, err := reader.GetProfile(cmd.Context(), userID)
	if errors.Is(err, subhook.ErrProfileNotFound) {
		return fmt.Errorf("profile %s not found", userID)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
