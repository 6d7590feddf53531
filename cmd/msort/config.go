package main

import (
	"fmt"
	"time"

	"github.com/franz/media-sorter/internal/fingerprint"
	"github.com/franz/media-sorter/internal/orphan"
	"github.com/franz/media-sorter/internal/report"
	"github.com/franz/media-sorter/internal/scan"
	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
	"github.com/spf13/viper"
)

const (
	defaultDB          = "media_index.db"
	defaultEventLogDir = "artifacts"
)

func setDefaults() {
	viper.SetDefault("db", defaultDB)
	viper.SetDefault("event-log-dir", defaultEventLogDir)
	viper.SetDefault("min-size", scan.DefaultMinSize)
	viper.SetDefault("exclude-ext", scan.DefaultExcludeExts)
	viper.SetDefault("noise-patterns", orphan.DefaultNoisePatterns)
	viper.SetDefault("batch-size", store.DefaultBatchSize)
	viper.SetDefault("progress-every", scan.DefaultProgressEvery)
	viper.SetDefault("chunk-size", fingerprint.DefaultChunkSize)
	viper.SetDefault("busy-timeout", store.DefaultBusyTimeout)
	viper.SetDefault("retry-attempts", 1)
}

// settings is the resolved configuration: flag, then MSORT_* env, then
// config file, then default
type settings struct {
	DBPath        string
	EventLogDir   string
	MinSize       int64
	ExcludeExts   []string
	NoisePatterns []string
	BatchSize     int
	ProgressEvery int
	ChunkSize     int
	BusyTimeout   time.Duration
	RetryAttempts int
	Verbose       bool
	Quiet         bool
}

func loadSettings() (*settings, error) {
	s := &settings{
		DBPath:        viper.GetString("db"),
		EventLogDir:   viper.GetString("event-log-dir"),
		MinSize:       viper.GetInt64("min-size"),
		ExcludeExts:   viper.GetStringSlice("exclude-ext"),
		NoisePatterns: viper.GetStringSlice("noise-patterns"),
		BatchSize:     viper.GetInt("batch-size"),
		ProgressEvery: viper.GetInt("progress-every"),
		ChunkSize:     viper.GetInt("chunk-size"),
		BusyTimeout:   viper.GetDuration("busy-timeout"),
		RetryAttempts: viper.GetInt("retry-attempts"),
		Verbose:       viper.GetBool("verbose"),
		Quiet:         viper.GetBool("quiet"),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *settings) validate() error {
	switch {
	case s.DBPath == "":
		return fmt.Errorf("%w: db path is empty", util.ErrInvalidConfig)
	case s.MinSize < 0:
		return fmt.Errorf("%w: min-size must be >= 0", util.ErrInvalidConfig)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: batch-size must be > 0", util.ErrInvalidConfig)
	case s.ProgressEvery <= 0:
		return fmt.Errorf("%w: progress-every must be > 0", util.ErrInvalidConfig)
	case s.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk-size must be > 0", util.ErrInvalidConfig)
	case s.BusyTimeout < 0:
		return fmt.Errorf("%w: busy-timeout must be >= 0", util.ErrInvalidConfig)
	case s.RetryAttempts < 1:
		return fmt.Errorf("%w: retry-attempts must be >= 1", util.ErrInvalidConfig)
	}
	return nil
}

func (s *settings) retryConfig() *util.RetryConfig {
	if s.RetryAttempts <= 1 {
		return util.NoRetryConfig()
	}
	cfg := util.DefaultRetryConfig()
	cfg.MaxAttempts = s.RetryAttempts
	return cfg
}

func (s *settings) openStore() (*store.Store, error) {
	util.DebugLog("Opening database: %s", s.DBPath)
	db, err := store.OpenWithOptions(s.DBPath, &store.OpenOptions{BusyTimeout: s.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// eventLogger returns a JSONL logger, or a no-op logger if it cannot be created
func (s *settings) eventLogger() *report.EventLogger {
	logLevel := report.LevelInfo
	if s.Quiet {
		logLevel = report.LevelWarning
	} else if s.Verbose {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(s.EventLogDir, logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}

// extFilter combines an explicit extension list with a category
func extFilter(exts []string, category string) ([]string, error) {
	catExts, err := orphan.CategoryExts(category)
	if err != nil {
		return nil, err
	}
	if len(exts) == 0 {
		return catExts, nil
	}
	if len(catExts) == 0 {
		return exts, nil
	}
	// Both given: only extensions in both lists pass
	inCat := store.ExtSet(catExts)
	var out []string
	for e := range store.ExtSet(exts) {
		if _, ok := inCat[e]; ok {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no extension in %v belongs to category %q", util.ErrInvalidConfig, exts, category)
	}
	return out, nil
}
