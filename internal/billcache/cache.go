// Package billcache stores retrieved bills on disk under a canonical name derived from the
// identifier and billing period. The file existing at that path is the cache record.
package billcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"billfetch/internal/billing"
	"billfetch/internal/components/assert"
	"billfetch/internal/components/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("internal/billcache")
var meter = otel.Meter("internal/billcache")

var lookupCounter, _ = meter.Int64Counter(
	"billcache.lookups",
	metric.WithDescription("Cache lookups partitioned by hit/miss."),
)

const (
	report_cache_lookup = "cache.lookup"
	report_cache_commit = "cache.commit"
)

type Cache struct {
	dir string
	tel telemetry.API
}

// New creates the cache rooted at `dir`, creating the directory if it does not exist.
func New(dir string, tel telemetry.API) (Cache, error) {
	assert.NotEmptyStr(dir)
	assert.NotNil(tel)

	abs, err := filepath.Abs(dir)
	if err != nil {
		return Cache{}, err
	}
	err = os.MkdirAll(abs, 0755)
	if err != nil {
		return Cache{}, fmt.Errorf("create cache dir: %w", err)
	}
	return Cache{
		dir: abs,
		tel: telemetry.NewScopedAPI("billcache", tel),
	}, nil
}

// Dir is the absolute directory canonical bills live in.
func (c Cache) Dir() string {
	return c.dir
}

// Path is the canonical path of the bill for (id, period), it may not exist.
func (c Cache) Path(id string, period billing.Period) string {
	return filepath.Join(c.dir, billing.CanonicalName(id, period))
}

// resolve is Path for identifiers that stay a single element inside the cache directory.
func (c Cache) resolve(id string, period billing.Period) (string, error) {
	name := billing.CanonicalName(id, period)
	if filepath.Base(name) != name || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q escapes the cache directory", billing.ErrInvalidIdentifier, id)
	}
	return filepath.Join(c.dir, name), nil
}

// Lookup returns the canonical path if a bill has already been stored for (id, period).
func (c Cache) Lookup(ctx context.Context, id string, period billing.Period) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "cache:lookup")
	defer span.End()

	path, err := c.resolve(id, period)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	span.SetAttributes(attribute.String("custom.cache_path", path))

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		lookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", false)))
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat cached bill")
		c.tel.ReportBroken(report_cache_lookup, err, path)
		return "", false, err
	}
	if !info.Mode().IsRegular() {
		err := fmt.Errorf("cached bill %s is not a regular file", path)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportBroken(report_cache_lookup, err)
		return "", false, err
	}

	lookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", true)))
	c.tel.ReportDebug("cache hit", id, period.Token())
	return path, true, nil
}

// Commit moves `source` onto the canonical path of (id, period) and returns that path.
// An existing bill at the canonical path is overwritten.
func (c Cache) Commit(ctx context.Context, id string, period billing.Period, source string) (string, error) {
	ctx, span := tracer.Start(ctx, "cache:commit")
	defer span.End()

	dest, err := c.resolve(id, period)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(
		attribute.String("custom.source", source),
		attribute.String("custom.cache_path", dest),
	)

	err = os.Rename(source, dest)
	if errors.Is(err, syscall.EXDEV) {
		err = moveAcrossDevices(source, dest)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move artifact into cache")
		c.tel.ReportBroken(report_cache_commit, err, source, dest)
		return "", fmt.Errorf("commit %s: %w", filepath.Base(dest), err)
	}

	c.tel.ReportDebug("committed bill", id, period.Token(), dest)
	return dest, nil
}

// moveAcrossDevices copies source to a temporary sibling of dest, syncs it, renames it
// into place and only then removes source.
func moveAcrossDevices(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".commit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, in)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		return err
	}
	return os.Remove(source)
}
