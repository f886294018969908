package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/presencesim/internal/models"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show executed actions, newest first",
	RunE:  runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	var records []models.ActionRecord
	if err := apiGet(fmt.Sprintf("/api/history?limit=%d", historyLimit), &records); err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No actions executed yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tENTITY\tSOURCE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Time.Local().Format("2006-01-02 15:04"), r.Action, r.Entity, r.Source)
	}
	w.Flush()
	return nil
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("Mon 15:04")
}
