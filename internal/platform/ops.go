package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/adapters/sqlite"
	"github.com/aretw0/tally/pkg/core"
)

// SQLiteFile is the database file name used by the sqlite adapter inside the
// data directory.
const SQLiteFile = "tally.db"

// Init opens and initializes the store selected by the options. The uri is
// adapter-specific: a data directory for "fs" and "sqlite", ignored by "memory".
func Init(uri string, opts ...Option) (core.Store, error) {
	o := defaultOptions().apply(opts)
	return initStore(context.Background(), uri, o)
}

func initStore(ctx context.Context, uri string, o *options) (core.Store, error) {
	if o.store != nil {
		if err := o.store.Initialize(ctx); err != nil {
			return nil, err
		}
		return o.store, nil
	}

	var store core.Store
	var err error
	switch o.adapter {
	case "fs":
		store = newFS(uri, o)
	case "sqlite":
		store, err = newSQLite(uri, o)
	case "memory":
		store = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// dataPath applies the dev sandbox rules to uri.
func dataPath(uri string, o *options) string {
	tempDir, _ := o.config["temp_dir"].(bool)
	readOnly, _ := o.config["read_only"].(bool)
	devSafety := true
	if v, ok := o.config["dev_safety"].(bool); ok {
		devSafety = v
	}

	bypass := readOnly || !devSafety
	useTemp := tempDir || (IsDevRun() && !bypass)
	resolved := ResolveDataPath(uri, useTemp)

	if useTemp && resolved != filepath.Clean(uri) {
		o.logger.Warn("running in SAFE MODE (dev sandbox)", "original_path", uri, "resolved_path", resolved)
	}
	return resolved
}

func newFS(uri string, o *options) *fs.Store {
	mustExist, _ := o.config["must_exist"].(bool)
	readOnly, _ := o.config["read_only"].(bool)
	systemDir, _ := o.config["system_dir"].(string)
	errorHandler, _ := o.config["watcher_error_handler"].(func(error))

	return fs.NewStore(fs.Config{
		Path:         dataPath(uri, o),
		MustExist:    mustExist,
		ReadOnly:     readOnly,
		Logger:       o.logger,
		SystemDir:    systemDir,
		ErrorHandler: errorHandler,
	})
}

func newSQLite(uri string, o *options) (*sqlite.Store, error) {
	readOnly, _ := o.config["read_only"].(bool)
	path := dataPath(uri, o)
	if filepath.Ext(path) != ".db" {
		path = filepath.Join(path, SQLiteFile)
	}
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return sqlite.Open(sqlite.Config{DSN: path, ReadOnly: readOnly, Logger: o.logger})
}
