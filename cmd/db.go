package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"imgscan/util"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the scan database",
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all scan history",
	RunE:  runDBReset,
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a timestamped copy of the scan database",
	RunE:  runDBBackup,
}

func init() {
	dbResetCmd.Flags().BoolVarP(&yesAll, "yes", "y", false, "Answer yes to all prompts")
	dbCmd.AddCommand(dbResetCmd, dbBackupCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBReset(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	if !svc.DatabaseExists() {
		fmt.Fprintln(out, "No database to reset")
		return nil
	}
	if !yesAll && !util.AskYN(fmt.Sprintf("Delete all scan history in %s?", svc.GetDatabasePath()), false) {
		fmt.Fprintln(out, "Reset cancelled")
		return nil
	}

	result, err := svc.ResetDatabase()
	if err != nil {
		return err
	}
	for _, f := range result.FilesRemoved {
		fmt.Fprintf(out, "  ✓ Removed %s\n", f)
	}
	fmt.Fprintln(out, "Database reset")
	return nil
}

func runDBBackup(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	path, err := svc.BackupDatabase()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  ✓ Backup written to %s\n", path)
	return nil
}
