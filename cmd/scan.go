package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imgscan/scan"
	"imgscan/service"
)

var keepOutput bool

var scanCmd = &cobra.Command{
	Use:   "scan [image...]",
	Short: "Scan all images, or those matching the given IDs or names",
	Long: `Scan mounts every selected image in turn and runs the collector in it.
Images are selected by ID prefix or exact name; without arguments every
local image is scanned. The run stops at the first image that fails, after
all of its mounts have been released.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&keepOutput, "keep-output", false, "Keep output of earlier runs")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	// The orchestrator stops at the next image boundary. The image in
	// progress runs to the end (bounded by Launcher_timeout) and is torn
	// down first.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	result, err := svc.Scan(ctx, service.ScanOptions{
		Images:     args,
		KeepOutput: keepOutput,
	})
	if result != nil {
		printScanResult(cmd, result)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func printScanResult(cmd *cobra.Command, result *service.ScanResult) {
	out := cmd.OutOrStdout()
	stats := result.Stats()

	if result.Report != nil {
		for _, r := range result.Report.Results {
			switch r.Outcome {
			case scan.OutcomeFailed:
				fmt.Fprintf(out, "  ✗ %s: %s failed: %s\n", r.Image, r.Step, r.Reason)
			case scan.OutcomeSkipped:
				fmt.Fprintf(out, "  - %s: not applicable\n", r.Image)
			default:
				fmt.Fprintf(out, "  ✓ %s (%s)\n", r.Image, r.Duration.Round(time.Millisecond))
			}
		}
	}

	fmt.Fprintf(out, "\nScan Statistics:\n")
	fmt.Fprintf(out, "  Run:      %s\n", result.RunID)
	fmt.Fprintf(out, "  Images:   %d\n", stats.Total)
	fmt.Fprintf(out, "  Scanned:  %d\n", stats.Scanned)
	fmt.Fprintf(out, "  Skipped:  %d\n", stats.Skipped)
	fmt.Fprintf(out, "  Failed:   %d\n", stats.Failed)
	if result.Report != nil && len(result.Report.Gathered) > 0 {
		fmt.Fprintf(out, "  Gathered: %d files\n", len(result.Report.Gathered))
	}
	fmt.Fprintf(out, "  Duration: %s\n\n", result.Duration.Round(time.Millisecond))
}
