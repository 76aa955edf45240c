package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"miru/internal/identity"
)

var forgetCmd = &cobra.Command{
	Use:   "forget [label]",
	Short: "Remove an enrolled person",
	Long: `Removes a person and all their templates from the identity store.
The label is matched case- and accent-insensitively, the same way
recognition matches it.`,
	Args: cobra.ExactArgs(1),
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	label := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := identity.Open(cfg.Identity.StorePath, identity.Options{
		Threshold:  cfg.Identity.MatchThreshold,
		ANNCutover: cfg.Identity.ANNCutover,
	})
	if err != nil {
		return fmt.Errorf("opening identity store: %w", err)
	}

	removed, err := store.Remove(label)
	if err != nil {
		return fmt.Errorf("removing %q: %w", label, err)
	}
	if !removed {
		return fmt.Errorf("no person enrolled as %q", label)
	}

	fmt.Printf("Removed %q.\n", label)
	return nil
}
