package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List, delete or rename source labels",
	RunE:  runSourcesList,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed source labels",
	Args:  cobra.NoArgs,
	RunE:  runSourcesList,
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Remove every record of a source label (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesDelete,
}

var sourcesRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a source label",
	Long: `Rename a source label. Fails without changing anything if the new label
already holds a record for any of the same paths.`,
	Args: cobra.ExactArgs(2),
	RunE: runSourcesRename,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd, sourcesDeleteCmd, sourcesRenameCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sources, err := db.ListSources(context.Background())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		util.InfoLog("No sources indexed yet. Start with: msort scan <root> --label <LABEL>")
		return nil
	}

	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, []string{
			s.Label,
			strconv.Itoa(s.FileCount),
			util.FormatBytes(s.TotalBytes),
			s.LastScan.Format("2006-01-02 15:04"),
		})
	}
	fmt.Println(renderTable([]string{"Label", "Files", "Size", "Last scan"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
	return nil
}

// withWriteLock runs fn while holding the single-operation lock, so a
// label is never changed under a running scan or copy
func withWriteLock(cfg *settings, label string, fn func(ctx context.Context, db *store.Store) error) error {
	db, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	mgr := session.NewManager(cfg.DBPath)
	s, err := mgr.Start(context.Background(), session.KindMaintenance, label, func(ctx context.Context, _ *session.Session) (bool, error) {
		return false, fn(ctx, db)
	})
	if err != nil {
		return err
	}
	st, _ := s.Wait(context.Background())
	return st.Err
}

func runSourcesDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	label := args[0]

	logger := cfg.eventLogger()
	defer logger.Close()

	return withWriteLock(cfg, label, func(ctx context.Context, db *store.Store) error {
		n, err := db.DeleteBySource(ctx, label)
		if err != nil {
			return err
		}
		if n == 0 {
			util.WarnLog("No records under [%s]", label)
			return nil
		}
		logger.LogSourceChange(label, "", n)
		util.SuccessLog("Removed %d record(s) of [%s]", n, label)
		return nil
	})
}

func runSourcesRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	from, to := args[0], args[1]
	if to == "" {
		return fmt.Errorf("%w: new label is empty", util.ErrInvalidConfig)
	}

	logger := cfg.eventLogger()
	defer logger.Close()

	return withWriteLock(cfg, from, func(ctx context.Context, db *store.Store) error {
		n, err := db.RenameSource(ctx, from, to)
		if err != nil {
			var collision *store.LabelCollisionError
			if errors.As(err, &collision) {
				util.ErrorLog("Nothing renamed: %d path(s) are indexed under both [%s] and [%s]", collision.Conflicts, from, to)
			}
			return err
		}
		logger.LogSourceChange(from, to, n)
		util.SuccessLog("Renamed [%s] to [%s] (%d record(s))", from, to, n)
		return nil
	})
}
