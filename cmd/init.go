package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create imgscan directories and check host sources",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initializing imgscan environment...")
	fmt.Fprintln(out)

	result, err := svc.Initialize()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Setting up directories:")
	for _, dir := range result.DirsCreated {
		fmt.Fprintf(out, "  ✓ %s\n", dir)
	}
	if result.DatabaseInitialized {
		fmt.Fprintf(out, "  ✓ Database: %s\n", svc.GetDatabasePath())
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(out, "\nHost sources:")
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  ⚠ %s\n", w)
		}
	}

	fmt.Fprintln(out, "\n✓ Initialization complete!")
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Verify configuration file (if needed)")
	fmt.Fprintln(out, "  2. Install the collector and launcher")
	fmt.Fprintln(out, "  3. Run: imgscan scan")
	return nil
}
