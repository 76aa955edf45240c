package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"miru/internal/identity"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "List enrolled people",
	Long:  `Displays every enrolled person with template counts and timestamps.`,
	Args:  cobra.NoArgs,
	RunE:  runPersons,
}

func init() {
	rootCmd.AddCommand(personsCmd)
}

func runPersons(cmd *cobra.Command, args []string) error {
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

	people := store.People()
	if len(people) == 0 {
		fmt.Println("No people enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tTEMPLATES\tENROLLED\tUPDATED")
	fmt.Fprintln(w, "-----\t---------\t--------\t-------")

	for _, p := range people {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Label, p.Templates,
			p.EnrolledAt.Format("2006-01-02 15:04"), p.UpdatedAt.Format("2006-01-02 15:04"))
	}

	w.Flush()

	fmt.Printf("\nTotal: %d people, %d templates\n", store.Count(), store.Templates())

	return nil
}
