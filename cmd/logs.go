package cmd

import (
	"github.com/spf13/cobra"

	"imgscan/log"
)

var tailLines int

var logsCmd = &cobra.Command{
	Use:   "logs [name|image-id]",
	Short: "List or view run and image logs",
	Long: `Without arguments the available logs are listed. A name selects a run
log (00/results, 01/scanned, 02/failure, 03/skipped, 04/debug); anything
else is taken as an image ID and shows that image's log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&tailLines, "tail", "n", 0, "Show only the last N lines")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		log.ListLogs(cfg, out)
		return nil
	}
	if tailLines > 0 {
		return log.TailLog(cfg, args[0], tailLines, out)
	}
	return log.ViewLog(cfg, args[0], out)
}
