package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/media-sorter/internal/orphan"
	"github.com/franz/media-sorter/internal/util"
)

// DefaultTopFolders is the number of folders listed in an orphan report
const DefaultTopFolders = 20

// SummaryReport describes an orphan resolution for a human reader
type SummaryReport struct {
	GeneratedAt  time.Time
	Set          *orphan.Set
	TopFolders   int
	Filters      string
	DatabasePath string
	EventLogPath string
}

// NewSummaryReport wraps a resolved set for reporting
func NewSummaryReport(set *orphan.Set, databasePath string) *SummaryReport {
	return &SummaryReport{
		GeneratedAt:  time.Now(),
		Set:          set,
		TopFolders:   DefaultTopFolders,
		DatabasePath: databasePath,
	}
}

// WriteMarkdownReport writes the orphan report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	set := report.Set
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# Orphan Report: %s vs %s\n\n", set.Target, set.Master))
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Master | %s |\n", set.Master))
	md.WriteString(fmt.Sprintf("| Target | %s |\n", set.Target))
	md.WriteString(fmt.Sprintf("| Orphaned Files | %d |\n", set.TotalFiles))
	md.WriteString(fmt.Sprintf("| Orphaned Size | %s |\n", util.FormatBytes(set.TotalSize)))
	md.WriteString(fmt.Sprintf("| Folders | %d |\n", len(set.Folders)))
	if report.Filters != "" {
		md.WriteString(fmt.Sprintf("| Filters | %s |\n", report.Filters))
	}
	md.WriteString("\n")

	if set.TotalFiles == 0 {
		md.WriteString("Every file on the target has a content match on the master.\n\n")
	} else {
		top := set.Top(report.TopFolders)
		md.WriteString(fmt.Sprintf("## Top Folders (%d of %d)\n\n", len(top), len(set.Folders)))
		md.WriteString("| # | Files | Size | Folder |\n")
		md.WriteString("|---|-------|------|--------|\n")
		for i, f := range top {
			md.WriteString(fmt.Sprintf("| %d | %d | %s | `%s` |\n",
				i+1, f.Count, util.FormatBytes(f.Size), truncatePath(f.Path, 80)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by msort*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteOrphanList writes one orphan path per line
func WriteOrphanList(set *orphan.Set, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create orphan list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, o := range set.Files {
		w.WriteString(o.Path)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write orphan list: %w", err)
	}
	return f.Close()
}

// ReadPathList reads a list written by WriteOrphanList. Blank lines and
// surrounding whitespace are ignored; order is preserved.
func ReadPathList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open path list: %w", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read path list: %w", err)
	}
	return paths, nil
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
