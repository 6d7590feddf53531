package main

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/media-sorter/internal/materialize"
	"github.com/franz/media-sorter/internal/orphan"
	"github.com/franz/media-sorter/internal/report"
	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy or move orphans (or a path list) to a destination with verification",
	Long: `Copy or move files to a destination directory. Every copy is re-fingerprinted
and compared with the indexed digest; a mismatching copy is deleted and
counted, and the batch continues. Name collisions get a numeric suffix
(img.jpg, img_1.jpg, ...); nothing at the destination is ever overwritten.

Files come either from an orphan query (--master/--target, same filters as
'msort orphans') or from a path list written by 'msort orphans --export'
(--from-list). Copies are indexed under --dest-label. With --move the source
file and its record are removed only after the copy is verified.

Examples:
  msort copy --master MASTER --target USB1 --dest /mnt/recovered --dest-label RECOVERED --dry-run
  msort copy --from-list orphans.txt --dest /mnt/recovered --dest-label RECOVERED --move`,
	RunE: runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)

	copyCmd.Flags().String("master", "", "master source label")
	copyCmd.Flags().String("target", "", "target source label")
	copyCmd.Flags().StringSlice("include-ext", nil, "only copy these extensions")
	copyCmd.Flags().StringSlice("exclude-ext", nil, "never copy these extensions")
	copyCmd.Flags().String("category", "", "only copy a category: photo, video, audio, document")
	copyCmd.Flags().String("from-list", "", "copy the paths listed in this file instead of resolving orphans")
	copyCmd.Flags().String("label", "", "with --from-list, the label to resolve paths under")
	copyCmd.Flags().String("dest", "", "destination directory (required)")
	copyCmd.Flags().String("dest-label", "", "source label for the copies (required unless --dry-run)")
	copyCmd.Flags().Bool("move", false, "delete each source after its copy is verified")
	copyCmd.Flags().Bool("dry-run", false, "show what would be done without touching anything")
	copyCmd.Flags().Bool("group-by-ext", false, "place files under dest/<extension>/")
	copyCmd.MarkFlagRequired("dest")
	copyCmd.MarkFlagsMutuallyExclusive("from-list", "master")
	copyCmd.MarkFlagsMutuallyExclusive("from-list", "target")
	copyCmd.MarkFlagsRequiredTogether("master", "target")
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	fromList, _ := cmd.Flags().GetString("from-list")
	master, _ := cmd.Flags().GetString("master")
	dest, _ := cmd.Flags().GetString("dest")
	destLabel, _ := cmd.Flags().GetString("dest-label")
	move, _ := cmd.Flags().GetBool("move")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	groupByExt, _ := cmd.Flags().GetBool("group-by-ext")
	category, _ := cmd.Flags().GetString("category")

	if fromList == "" && master == "" {
		return fmt.Errorf("either --from-list or --master/--target is required")
	}
	if destLabel == "" && !dryRun {
		return fmt.Errorf("%w: --dest-label is required", util.ErrInvalidConfig)
	}

	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := cfg.eventLogger()
	defer logger.Close()

	ctx := context.Background()
	var items []materialize.Item
	if fromList != "" {
		paths, err := report.ReadPathList(fromList)
		if err != nil {
			return err
		}
		label, _ := cmd.Flags().GetString("label")
		var missing int
		items, missing, err = materialize.ResolvePaths(ctx, db, paths, label, logger)
		if err != nil {
			return err
		}
		if missing > 0 {
			util.WarnLog("%d of %d listed path(s) are not in the index and were skipped", missing, len(paths))
		}
	} else {
		q, _, err := orphanQuery(cmd, cfg)
		if err != nil {
			return err
		}
		set, err := orphan.NewResolver(db).Resolve(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to resolve orphans: %w", err)
		}
		items = materialize.FromOrphans(set)
	}

	if len(items) == 0 {
		util.InfoLog("Nothing to copy")
		return nil
	}

	m := materialize.New(&materialize.Config{
		Store:       db,
		Logger:      logger,
		ChunkSize:   cfg.ChunkSize,
		RetryConfig: cfg.retryConfig(),
	})
	opts := &materialize.Options{
		DestRoot:         dest,
		DestLabel:        destLabel,
		Move:             move,
		DryRun:           dryRun,
		GroupByExtension: groupByExt,
		Category:         category,
	}

	description := "Copying"
	if move {
		description = "Moving"
	}

	var result *materialize.Result
	_, err = runInBackground(cfg.DBPath, session.KindMaterialize, destLabel, description, len(items),
		func(ctx context.Context, s *session.Session) (bool, error) {
			opts.OnProgress = func(done, total int, current string) {
				s.Update(session.Progress{Done: done, Total: total, CurrentFile: current})
			}
			var merr error
			result, merr = m.Run(ctx, items, opts)
			return result != nil && result.Stopped, merr
		})
	if err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}

	if dryRun {
		rows := make([][]string, 0, len(result.Planned))
		for _, a := range result.Planned {
			rows = append(rows, []string{a.Src, a.Dest})
		}
		fmt.Println(renderTable([]string{"Source", "Destination"}, rows, nil))
		verb := "copied"
		if move {
			verb = "moved"
		}
		util.InfoLog("DRY-RUN: %d file(s) would be %s", len(result.Planned), verb)
		return nil
	}

	util.InfoLog("")
	util.InfoLog("=== Copy Summary [%s] ===", destLabel)
	util.InfoLog("  Copied:              %d", result.Copied)
	util.InfoLog("  Moved:               %d", result.Moved)
	util.InfoLog("  Written:             %s", util.FormatBytes(result.BytesWritten))
	if result.VerificationFailed > 0 {
		util.ErrorLog("  Verification failed: %d", result.VerificationFailed)
	}
	if result.Errors > 0 {
		util.WarnLog("  Errors:              %d", result.Errors)
	}
	util.InfoLog("  Duration:            %s", result.Duration.Round(time.Millisecond))
	if result.Stopped {
		util.WarnLog("Copy was stopped before all files were processed")
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return nil
}
