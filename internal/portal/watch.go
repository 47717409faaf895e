package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDetector is the event driven counterpart of PollDetector, it rechecks the
// directory whenever fsnotify reports a create or rename instead of on a fixed interval.
type WatchDetector struct {
	Ceiling time.Duration
}

func (d WatchDetector) Snapshot(dir string) (int, error) {
	return CountCompleted(dir)
}

func (d WatchDetector) Await(ctx context.Context, dir string, baseline int) (string, error) {
	ceiling := d.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultPollCeiling
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	err = watcher.Add(dir)
	if err != nil {
		return "", fmt.Errorf("watch %s: %w", dir, err)
	}

	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	// the download may have finished between Snapshot and Add
	for {
		count, err := CountCompleted(dir)
		if err != nil {
			return "", fmt.Errorf("count download dir: %w", err)
		}
		if count > baseline {
			return LatestFile(dir)
		}

		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			return "", fmt.Errorf("watch %s: %w", dir, err)
		case <-deadline.C:
			return "", fmt.Errorf("%w: no new file in %s after %s", ErrDownloadTimeout, dir, ceiling)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
