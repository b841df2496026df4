package orgs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrCacheMissing reports that no cache file exists for the organization.
	ErrCacheMissing = errors.New("organization cache missing")

	// ErrCacheStale reports that the cache file is older than the configured
	// maximum age.
	ErrCacheStale = errors.New("organization cache stale")
)

func (org *Organization) cachePath() string {
	name := org.CacheFile
	if name == "" {
		name = cacheFilePrefix + org.MasterAccountID
	}
	return filepath.Join(org.CacheDir, name)
}

// readCache decodes the cache file when it exists and is younger than
// CacheMaxAge.
func (org *Organization) readCache() (*Dump, error) {
	path := org.cachePath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCacheMissing, path)
		}
		return nil, err
	}
	if time.Since(info.ModTime()) >= org.CacheMaxAge {
		return nil, fmt.Errorf("%w: %s", ErrCacheStale, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dump Dump
	if err := json.Unmarshal(content, &dump); err != nil {
		return nil, fmt.Errorf("decode organization cache %s: %w", path, err)
	}
	return &dump, nil
}

// writeCache dumps the organization to its cache file. The cache directory
// is owner-only, and the write goes through a temp file so a concurrent
// reader never sees a partial dump.
func (org *Organization) writeCache() error {
	if err := os.MkdirAll(org.CacheDir, 0o700); err != nil {
		return err
	}
	content, err := json.MarshalIndent(org.Dump(), "", "  ")
	if err != nil {
		return err
	}

	path := org.cachePath()
	tmp, err := os.CreateTemp(org.CacheDir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ClearCache removes the organization's cache file. A missing file is not
// an error.
func (org *Organization) ClearCache() error {
	err := os.Remove(org.cachePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
