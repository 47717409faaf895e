package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Detector decides when a download triggered by a click has landed in the session's
// download directory.
//
// note: fault injection point
type Detector interface {
	// Snapshot is taken right before the click.
	Snapshot(dir string) (int, error)
	// Await blocks until the directory holds more completed files than `baseline`, then returns
	// the most recently created one. It returns an error wrapping ErrDownloadTimeout if that
	// does not happen within the detector's ceiling.
	Await(ctx context.Context, dir string, baseline int) (string, error)
}

var partialSuffixes = []string{".crdownload", ".tmp", ".part"}

// inProgress reports whether the browser is still writing the file.
func inProgress(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// completed reports whether the entry is a regular file the browser has finished writing.
func completed(e os.DirEntry) bool {
	return e.Type().IsRegular() && !inProgress(e.Name())
}

// CountCompleted counts the regular files of dir that are not in-progress downloads.
func CountCompleted(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if completed(e) {
			count++
		}
	}
	return count, nil
}

// LatestFile returns the most recently created completed file in dir.
func LatestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latest string
	var latestTime time.Time
	for _, e := range entries {
		if !completed(e) {
			continue
		}
		info, err := e.Info()
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		modified := info.ModTime()
		if latest == "" || modified.After(latestTime) || (modified.Equal(latestTime) && e.Name() > filepath.Base(latest)) {
			latest = filepath.Join(dir, e.Name())
			latestTime = modified
		}
	}

	if latest == "" {
		return "", fmt.Errorf("no completed file in %s", dir)
	}
	return latest, nil
}

// PollDetector compares the directory's file count against the baseline once per Interval.
type PollDetector struct {
	Interval time.Duration
	Ceiling  time.Duration
}

func (d PollDetector) Snapshot(dir string) (int, error) {
	return CountCompleted(dir)
}

func (d PollDetector) Await(ctx context.Context, dir string, baseline int) (string, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ceiling := d.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultPollCeiling
	}

	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		count, err := CountCompleted(dir)
		if err != nil {
			return "", fmt.Errorf("poll download dir: %w", err)
		}
		if count > baseline {
			return LatestFile(dir)
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return "", fmt.Errorf("%w: no new file in %s after %s", ErrDownloadTimeout, dir, ceiling)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// NewDetector returns the detector named by `strategy`, "poll" (the default) or "watch".
func NewDetector(strategy string, interval, ceiling time.Duration) (Detector, error) {
	switch strategy {
	case "", "poll":
		return PollDetector{Interval: interval, Ceiling: ceiling}, nil
	case "watch":
		return WatchDetector{Ceiling: ceiling}, nil
	default:
		return nil, fmt.Errorf("unknown download detector %q", strategy)
	}
}
