package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent scans, copies and moves",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ListHistory(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		util.InfoLog("No history yet")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Action,
			e.SourceLabel,
			e.Category,
			strconv.Itoa(e.FileCount),
		})
	}
	fmt.Println(renderTable([]string{"When", "Action", "Label", "Category", "Files"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	return nil
}
