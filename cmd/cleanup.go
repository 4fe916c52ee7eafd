package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"imgscan/service"
	"imgscan/util"
)

var (
	purge  bool
	yesAll bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Release mounts, devices and containers left by an interrupted run",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&purge, "purge", false, "Also remove output, collector and var-tmp directories")
	cleanupCmd.Flags().BoolVarP(&yesAll, "yes", "y", false, "Answer yes to all prompts")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if purge && !yesAll && !util.AskYN("Remove all scan output as well?", false) {
		fmt.Fprintln(cmd.OutOrStdout(), "Cleanup cancelled")
		return nil
	}

	result, err := svc.Cleanup(context.Background(), service.CleanupOptions{Purge: purge})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range result.Unmounted {
		fmt.Fprintf(out, "  ✓ Unmounted %s\n", p)
	}
	if result.StaleRemoved > 0 {
		fmt.Fprintf(out, "  ✓ Removed %d stale containers\n", result.StaleRemoved)
	}
	for _, id := range result.RunsClosed {
		fmt.Fprintf(out, "  ✓ Closed unfinished run %s\n", id)
	}
	if result.Purged {
		fmt.Fprintln(out, "  ✓ Removed all scan directories")
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  ✗ %v\n", e)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d problems", len(result.Errors))
	}
	fmt.Fprintln(out, "Cleanup complete")
	return nil
}
