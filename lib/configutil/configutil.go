// Package configutil loads json5 config files with an optional `.local` override layer.
package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// localPath turns `dir/config.json5` into `dir/config.local.json5`.
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readLayer decodes a single file, found is false when the file does not exist or is empty.
func readLayer[T any](path string) (layer T, found bool, err error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return layer, false, nil
	}
	if err != nil {
		return layer, false, err
	}
	if len(contents) == 0 {
		return layer, false, nil
	}
	err = json5.Unmarshal(contents, &layer)
	if err != nil {
		return layer, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, true, nil
}

// ReadConfig reads `name` (which must carry an extension) and merges `<name>.local.<ext>`
// over it, the local file wins field by field. It returns os.ErrNotExist if neither exists.
func ReadConfig[T any](name string) (T, error) {
	out, baseFound, err := readLayer[T](name)
	if err != nil {
		return out, err
	}

	local := localPath(name)
	override, localFound, err := readLayer[T](local)
	if err != nil {
		return out, err
	}
	if localFound {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Info("merging config with local overrides", "local", local)
	}

	if !baseFound && !localFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfigWithDefaults is ReadConfig, but zero-valued fields are filled in from `defaults`.
// a missing config file is not an error, `defaults` is returned as is.
func ReadConfigWithDefaults[T any](name string, defaults T) (T, error) {
	out, err := ReadConfig[T](name)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return out, err
	}
	err = mergo.Merge(&out, defaults)
	return out, err
}

// ReadRecursively looks for `name` in the working directory and then in each parent,
// returning the first config found or os.ErrNotExist.
func ReadRecursively[T any](name string) (T, error) {
	var empty T

	current, err := os.Getwd()
	if err != nil {
		return empty, err
	}
	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return empty, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return empty, os.ErrNotExist
		}
		current = parent
	}
}
