package main

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/franz/media-sorter/internal/util"
)

func validSettings() *settings {
	return &settings{
		DBPath:        "index.db",
		EventLogDir:   "artifacts",
		MinSize:       1024,
		BatchSize:     50,
		ProgressEvery: 25,
		ChunkSize:     64 * 1024,
		BusyTimeout:   time.Minute,
		RetryAttempts: 1,
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *settings)
		wantErr bool
	}{
		{"valid", func(s *settings) {}, false},
		{"zero min size", func(s *settings) { s.MinSize = 0 }, false},
		{"empty db", func(s *settings) { s.DBPath = "" }, true},
		{"negative min size", func(s *settings) { s.MinSize = -1 }, true},
		{"zero batch", func(s *settings) { s.BatchSize = 0 }, true},
		{"zero progress", func(s *settings) { s.ProgressEvery = 0 }, true},
		{"zero chunk", func(s *settings) { s.ChunkSize = 0 }, true},
		{"negative busy timeout", func(s *settings) { s.BusyTimeout = -time.Second }, true},
		{"zero retry attempts", func(s *settings) { s.RetryAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := s.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRetryConfig(t *testing.T) {
	s := validSettings()
	if got := s.retryConfig().MaxAttempts; got != 1 {
		t.Errorf("MaxAttempts = %d, want 1", got)
	}

	s.RetryAttempts = 4
	if got := s.retryConfig().MaxAttempts; got != 4 {
		t.Errorf("MaxAttempts = %d, want 4", got)
	}
}

func TestExtFilter(t *testing.T) {
	tests := []struct {
		name     string
		exts     []string
		category string
		want     []string
		wantErr  bool
	}{
		{"none", nil, "", nil, false},
		{"explicit only", []string{".jpg"}, "", []string{".jpg"}, false},
		{"intersection", []string{".jpg", ".mp4", ".CR2"}, "photo", []string{".cr2", ".jpg"}, false},
		{"disjoint", []string{".mp4"}, "photo", nil, true},
		{"unknown category", nil, "spreadsheets", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extFilter(tt.exts, tt.category)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.category == "" {
				if len(got) != len(tt.want) {
					t.Fatalf("extFilter() = %v, want %v", got, tt.want)
				}
				return
			}
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("extFilter() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("extFilter()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
