package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure msort can operate correctly.

This command checks:
- SQLite version
- Index database accessibility and integrity
- Whether another scan or copy currently holds the operation lock
- Source readability and destination writability (if given)
- Free disk space at the destination`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String("src", "", "Source directory to check (optional)")
	doctorCmd.Flags().String("dest", "", "Destination directory to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func pass(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...)}
}

func warn(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...), warning: true}
}

func fail(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...), error: true}
}

func (r checkResult) String() string {
	mark := "ok"
	switch {
	case r.error:
		mark = "FAIL"
	case r.warning:
		mark = "WARN"
	}
	if r.message == "" {
		return fmt.Sprintf("[%-4s] %s", mark, r.name)
	}
	return fmt.Sprintf("[%-4s] %s: %s", mark, r.name, r.message)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("msort doctor")

	dbPath := viper.GetString("db")
	srcPath, _ := cmd.Flags().GetString("src")
	destPath, _ := cmd.Flags().GetString("dest")

	checks := []checkResult{checkSQLite(), checkDatabase(dbPath)}
	if dbPath != "" {
		checks = append(checks, checkLock(dbPath))
	}
	if srcPath != "" {
		checks = append(checks, checkSourceDirectory(srcPath))
	}
	if destPath != "" {
		checks = append(checks, checkDestinationDirectory(destPath), checkDiskSpace(destPath, "destination"))
	}

	var failed, warned int
	for _, c := range checks {
		switch {
		case c.error:
			failed++
			util.ErrorLog("%s", c)
		case c.warning:
			warned++
			util.WarnLog("%s", c)
		default:
			util.SuccessLog("%s", c)
		}
	}

	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	case warned > 0:
		util.WarnLog("%d check(s) need attention", warned)
	default:
		util.SuccessLog("All %d checks passed", len(checks))
	}
	return nil
}

func checkSQLite() checkResult {
	const name = "SQLite"
	v := store.SQLiteVersion()
	if v == "" {
		return fail(name, "embedded driver did not report a version")
	}
	return pass(name, "%s (modernc, pure Go)", v)
}

// checkDatabase opens an existing index and runs an integrity check. A
// missing file is fine; the first scan creates it.
func checkDatabase(dbPath string) checkResult {
	const name = "Index"
	if dbPath == "" {
		return warn(name, "no path configured (set --db or db in msort.yaml)")
	}

	info, err := os.Stat(dbPath)
	switch {
	case os.IsNotExist(err):
		return pass(name, "%s does not exist yet", dbPath)
	case err != nil:
		return fail(name, "stat %s: %v", dbPath, err)
	case !info.Mode().IsRegular():
		return fail(name, "%s is not a regular file", dbPath)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fail(name, "open %s: %v", dbPath, err)
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return fail(name, "%s: %v", dbPath, err)
	}

	sources, err := db.ListSources(context.Background())
	if err != nil {
		return fail(name, "list sources: %v", err)
	}
	records := 0
	for _, src := range sources {
		records += src.FileCount
	}
	return pass(name, "%s, %s, %d label(s), %d record(s)", dbPath, util.FormatBytes(info.Size()), len(sources), records)
}

func checkLock(dbPath string) checkResult {
	const name = "Operation lock"
	mgr := session.NewManager(dbPath)
	held, err := mgr.Locked()
	switch {
	case err != nil:
		return warn(name, "probe %s: %v", mgr.LockPath(), err)
	case held:
		return warn(name, "%s is held by a running scan or copy", mgr.LockPath())
	}
	return pass(name, "free")
}

func checkSourceDirectory(path string) checkResult {
	const name = "Source"
	entries, err := os.ReadDir(path)
	if err != nil {
		return fail(name, "%v", err)
	}
	return pass(name, "%s, %d top-level entries", path, len(entries))
}

// checkDestinationDirectory probes writability with a throwaway file. A
// missing destination passes if its parent exists, since copy creates it.
func checkDestinationDirectory(path string) checkResult {
	const name = "Destination"
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		parent := filepath.Dir(path)
		if pi, perr := os.Stat(parent); perr != nil || !pi.IsDir() {
			return fail(name, "%s is missing and so is its parent %s", path, parent)
		}
		return pass(name, "%s will be created", path)
	}
	if err != nil {
		return fail(name, "stat %s: %v", path, err)
	}
	if !info.IsDir() {
		return fail(name, "%s is not a directory", path)
	}

	testFile := filepath.Join(path, ".msort_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fail(name, "%s is not writable: %v", path, err)
	}
	f.Close()
	os.Remove(testFile)
	return pass(name, "%s is writable", path)
}

// checkDiskSpace walks up to the nearest existing ancestor of path
func checkDiskSpace(path string, label string) checkResult {
	name := "Free space (" + label + ")"
	for {
		if _, err := os.Stat(path); err == nil || filepath.Dir(path) == path {
			break
		}
		path = filepath.Dir(path)
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return warn(name, "statfs %s: %v", path, err)
	}

	bsize := uint64(fs.Bsize)
	avail := fs.Bavail * bsize
	total := fs.Blocks * bsize
	free := util.FormatBytes(int64(avail))

	if avail < 1<<30 {
		return warn(name, "only %s left", free)
	}
	if total > 0 && float64(total-fs.Bfree*bsize)/float64(total) > 0.95 {
		return warn(name, "%s left, volume over 95%% full", free)
	}
	return pass(name, "%s available", free)
}
