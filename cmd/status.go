package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"imgscan/scandb"
	"imgscan/service"
	"imgscan/util"
)

var (
	statusRun   string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status [image-id...]",
	Short: "Show recent runs and per-image results",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRun, "run", "", "Show only this run")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "Number of recent runs (0 = all)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.GetStatus(service.StatusOptions{
		RunID:  statusRun,
		Limit:  statusLimit,
		Images: args,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== Scan Database Status ===")
	fmt.Fprintf(out, "Database:  %s\n", svc.GetDatabasePath())
	fmt.Fprintf(out, "Size:      %s\n", formatBytes(result.DatabaseSize))
	if result.Active != nil {
		fmt.Fprintf(out, "\n⚠ Run %s started %s never finished; run 'imgscan cleanup'\n",
			util.ShortID(result.Active.ID), result.Active.StartTime.Format(time.RFC3339))
	}

	for _, rs := range result.Runs {
		printRun(out, rs)
	}
	if len(result.Runs) == 0 && statusRun == "" {
		fmt.Fprintln(out, "\nNo scan history available. Run a scan first.")
	}

	for _, st := range result.Images {
		if st.Latest == nil {
			fmt.Fprintf(out, "\n%s: never scanned\n", st.ImageID)
			continue
		}
		fmt.Fprintf(out, "\n%s:\n", st.ImageID)
		printImage(out, *st.Latest)
	}

	if len(result.LastLog) > 0 {
		fmt.Fprintf(out, "\nLast log: %d scanned, %d failed, %d skipped\n",
			result.LastLog["scanned"], result.LastLog["failed"], result.LastLog["skipped"])
	}
	return nil
}

func printRun(w io.Writer, rs service.RunStatus) {
	run := rs.Run
	state := "finished"
	switch {
	case run.Active():
		state = "running or interrupted"
	case run.Aborted:
		state = "aborted"
	}

	fmt.Fprintf(w, "\nRun %s (%s, %s)\n", util.ShortID(run.ID), run.Driver, state)
	fmt.Fprintf(w, "  Started:  %s\n", run.StartTime.Format(time.RFC3339))
	if !run.Active() {
		fmt.Fprintf(w, "  Duration: %s\n", util.FormatDuration(int64(run.EndTime.Sub(run.StartTime).Seconds())))
	}
	fmt.Fprintf(w, "  Images:   %d total, %d scanned, %d skipped, %d failed\n",
		run.Stats.Total, run.Stats.Scanned, run.Stats.Skipped, run.Stats.Failed)
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", run.Error)
	}
	for _, img := range rs.Images {
		printImage(w, img)
	}
}

func printImage(w io.Writer, rec scandb.RunImageRecord) {
	name := util.ShortID(rec.ImageID)
	if rec.Name != "" {
		name += " (" + rec.Name + ")"
	}
	switch rec.Status {
	case scandb.RunStatusFailed:
		fmt.Fprintf(w, "    ✗ %s: %s failed (%s): %s\n", name, rec.Step, rec.Kind, rec.Reason)
	case scandb.RunStatusSkipped:
		fmt.Fprintf(w, "    - %s: not applicable\n", name)
	default:
		fmt.Fprintf(w, "    ✓ %s\n", name)
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
