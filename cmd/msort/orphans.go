package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/franz/media-sorter/internal/orphan"
	"github.com/franz/media-sorter/internal/report"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List files on a target source that the master source does not have",
	Long: `Compare two indexed sources by content fingerprint and list the target files
whose content exists nowhere on the master, regardless of path or name.

Paths matching a noise pattern (catalog previews, thumbnail caches, OS
metadata) are always dropped, even if --include-ext would admit them.

Examples:
  msort orphans --master MASTER --target USB1
  msort orphans --master MASTER --target USB1 --category photo --export orphans.txt
  msort orphans --master MASTER --target USB1 --report artifacts/orphans.md`,
	RunE: runOrphans,
}

func init() {
	rootCmd.AddCommand(orphansCmd)

	orphansCmd.Flags().String("master", "", "master source label (required)")
	orphansCmd.Flags().String("target", "", "target source label (required)")
	orphansCmd.Flags().StringSlice("include-ext", nil, "only report these extensions")
	orphansCmd.Flags().StringSlice("exclude-ext", nil, "never report these extensions")
	orphansCmd.Flags().String("category", "", "only report a category: photo, video, audio, document")
	orphansCmd.Flags().StringSlice("noise-patterns", orphan.DefaultNoisePatterns, "path substrings that always exclude a file")
	orphansCmd.Flags().Int("top", report.DefaultTopFolders, "number of folders to show (0 = all)")
	orphansCmd.Flags().String("export", "", "write orphan paths to this file, one per line")
	orphansCmd.Flags().String("report", "", "write a Markdown report to this file")
	orphansCmd.MarkFlagRequired("master")
	orphansCmd.MarkFlagRequired("target")

	viper.BindPFlag("noise-patterns", orphansCmd.Flags().Lookup("noise-patterns"))
}

// orphanQuery builds a query from the shared orphan flags
func orphanQuery(cmd *cobra.Command, cfg *settings) (*orphan.Query, string, error) {
	master, _ := cmd.Flags().GetString("master")
	target, _ := cmd.Flags().GetString("target")
	include, _ := cmd.Flags().GetStringSlice("include-ext")
	exclude, _ := cmd.Flags().GetStringSlice("exclude-ext")
	category, _ := cmd.Flags().GetString("category")

	include, err := extFilter(include, category)
	if err != nil {
		return nil, "", err
	}

	var filters []string
	if category != "" {
		filters = append(filters, "category="+category)
	}
	if len(include) > 0 {
		filters = append(filters, "include="+strings.Join(include, ","))
	}
	if len(exclude) > 0 {
		filters = append(filters, "exclude="+strings.Join(exclude, ","))
	}

	return &orphan.Query{
		Master:        master,
		Target:        target,
		IncludeExts:   include,
		ExcludeExts:   exclude,
		NoisePatterns: cfg.NoisePatterns,
	}, strings.Join(filters, " "), nil
}

func runOrphans(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	q, filters, err := orphanQuery(cmd, cfg)
	if err != nil {
		return err
	}
	top, _ := cmd.Flags().GetInt("top")
	exportPath, _ := cmd.Flags().GetString("export")
	reportPath, _ := cmd.Flags().GetString("report")

	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	set, err := orphan.NewResolver(db).Resolve(context.Background(), q)
	if err != nil {
		return fmt.Errorf("failed to resolve orphans: %w", err)
	}

	if set.TotalFiles == 0 {
		util.SuccessLog("No orphans: every file on [%s] has a content match on [%s]", q.Target, q.Master)
	} else {
		rows := make([][]string, 0, len(set.Folders))
		for _, f := range set.Top(top) {
			rows = append(rows, []string{strconv.Itoa(f.Count), util.FormatBytes(f.Size), f.Path})
		}
		fmt.Fprintln(os.Stdout, renderTable([]string{"Files", "Size", "Folder"}, rows, []columnAlignment{alignRight, alignRight, alignLeft}))
		util.InfoLog("%d orphan(s) of [%s] vs [%s] in %d folder(s), %s total",
			set.TotalFiles, q.Target, q.Master, len(set.Folders), util.FormatBytes(set.TotalSize))
	}

	if exportPath != "" {
		if err := report.WriteOrphanList(set, exportPath); err != nil {
			return err
		}
		util.SuccessLog("Orphan list written to %s", exportPath)
	}

	if reportPath != "" {
		r := report.NewSummaryReport(set, cfg.DBPath)
		r.TopFolders = top
		r.Filters = filters
		if err := report.WriteMarkdownReport(r, reportPath); err != nil {
			return err
		}
		util.SuccessLog("Report written to %s", reportPath)
	}
	return nil
}
