package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/franz/media-sorter/internal/scan"
	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "Index a directory tree under a source label",
	Long: `Walk a directory tree, fingerprint every admitted file and store it in the
index under the given source label.

Filters apply in order: excluded extension, include list (--include-ext or
--category), minimum size. With --incremental, files whose size and
modification time match the index are not re-hashed. A file modified without
changing either is therefore missed; run without --incremental to force a
full re-fingerprint.

Ctrl-C stops the scan at the next file or chunk. Everything indexed so far is
kept, and re-running with --incremental resumes cheaply.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("label", "l", "", "source label to index under (required)")
	scanCmd.Flags().Bool("incremental", false, "skip files whose size and mtime are unchanged")
	scanCmd.Flags().Int64("min-size", scan.DefaultMinSize, "skip files smaller than this many bytes")
	scanCmd.Flags().StringSlice("exclude-ext", scan.DefaultExcludeExts, "extensions never indexed")
	scanCmd.Flags().StringSlice("include-ext", nil, "only index these extensions")
	scanCmd.Flags().String("category", "", "only index a category: photo, video, audio, document")
	scanCmd.MarkFlagRequired("label")

	viper.BindPFlag("min-size", scanCmd.Flags().Lookup("min-size"))
	viper.BindPFlag("exclude-ext", scanCmd.Flags().Lookup("exclude-ext"))
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	root := args[0]
	label, _ := cmd.Flags().GetString("label")
	incremental, _ := cmd.Flags().GetBool("incremental")
	includeExts, _ := cmd.Flags().GetStringSlice("include-ext")
	category, _ := cmd.Flags().GetString("category")

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	includeExts, err = extFilter(includeExts, category)
	if err != nil {
		return err
	}

	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := cfg.eventLogger()
	defer logger.Close()

	scanner := scan.New(&scan.Config{
		Store:         db,
		Logger:        logger,
		ChunkSize:     cfg.ChunkSize,
		BatchSize:     cfg.BatchSize,
		ProgressEvery: cfg.ProgressEvery,
	})

	var result *scan.Result
	status, err := runInBackground(cfg.DBPath, session.KindScan, label, "Scanning "+label, 0,
		func(ctx context.Context, s *session.Session) (bool, error) {
			var serr error
			result, serr = scanner.Scan(ctx, &scan.Options{
				Root:        root,
				Label:       label,
				Category:    category,
				MinSize:     cfg.MinSize,
				ExcludeExts: cfg.ExcludeExts,
				IncludeExts: includeExts,
				Incremental: incremental,
				OnProgress: func(p scan.Progress) {
					s.Update(session.Progress{Done: p.Added, Skipped: p.Skipped, Errors: p.Errors, CurrentFile: p.CurrentFile})
				},
			})
			return result != nil && result.Stopped, serr
		})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== Scan Summary [%s] ===", label)
	util.InfoLog("  Added:    %d", result.Added)
	util.InfoLog("  Skipped:  %d", result.Skipped)
	if result.Errors > 0 {
		util.WarnLog("  Errors:   %d", result.Errors)
	}
	util.InfoLog("  Duration: %s", result.Duration.Round(time.Millisecond))
	if status.State == session.StateStopped {
		util.WarnLog("Scan was stopped; re-run with --incremental to continue")
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return nil
}
