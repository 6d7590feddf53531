package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/util"
	"github.com/schollz/progressbar/v3"
)

const pollInterval = 200 * time.Millisecond

// runInBackground starts fn as the single active session and polls its
// status until it ends, rendering a progress bar on a terminal. SIGINT and
// SIGTERM cancel the session; the operation then stops at its next checkpoint.
func runInBackground(db string, kind session.Kind, label, description string, total int, fn session.Func) (session.Status, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := session.NewManager(db)
	s, err := mgr.Start(ctx, kind, label, fn)
	if err != nil {
		return session.Status{}, err
	}

	bar := newProgressBar(description, total)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-s.Done():
			st := s.Status()
			renderProgress(bar, description, st.Progress)
			if bar != nil {
				bar.Finish()
			}
			return st, st.Err
		case <-interrupted:
			interrupted = nil
			util.WarnLog("Interrupted, stopping after the current file...")
		case <-ticker.C:
			renderProgress(bar, description, s.Status().Progress)
		}
	}
}

// newProgressBar returns nil when stdout is not a terminal or output is quiet.
// total <= 0 gives an indeterminate spinner.
func newProgressBar(description string, total int) *progressbar.ProgressBar {
	if !util.IsTerminal(os.Stdout.Fd()) || util.IsQuiet() {
		return nil
	}
	n := int64(total)
	if total <= 0 {
		n = -1
	}
	return progressbar.NewOptions64(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(pollInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func renderProgress(bar *progressbar.ProgressBar, description string, p session.Progress) {
	if bar == nil {
		return
	}
	bar.Describe(fmt.Sprintf("%s | %d done | %d skipped | %d errors", description, p.Done, p.Skipped, p.Errors))
	bar.Set(p.Done + p.Skipped + p.Errors)
}
