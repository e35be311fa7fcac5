package tally

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/tally/internal/platform"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/syncer"
	"github.com/aretw0/tally/pkg/typed"
)

// --- Types ---

// App is a ready-to-use ledger with its store and, when configured, syncer.
type App = platform.App

// Config is the file and environment configuration (tally.yaml, .env, TALLY_*).
type Config = platform.Config

// Collection is a typed array of records stored under one key.
type Collection[T typed.Identifiable] = typed.Collection[T]

// ErrNoRemote is returned when a sync operation runs without a remote.
var ErrNoRemote = platform.ErrNoRemote

// --- Configuration ---

// Option defines a functional option for configuring tally.
type Option = platform.Option

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithStore allows injecting a custom storage adapter.
func WithStore(store core.Store) Option {
	return platform.WithStore(store)
}

// WithAdapter selects the storage adapter by name ("fs", "sqlite", "memory").
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithSystemDir sets the hidden directory of the fs adapter (default ".tally").
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithMustExist requires the data directory to exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithReadOnly opens the store read-only.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithDevSafety toggles the `go run` sandbox.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithWatcherErrorHandler receives runtime failures of the fs watcher.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// WithMinInterval sets the sync throttle window. Zero disables throttling.
func WithMinInterval(d time.Duration) Option {
	return platform.WithMinInterval(d)
}

// WithRemote injects the backup remote.
func WithRemote(r syncer.Remote) Option {
	return platform.WithRemote(r)
}

// WithRemoteURL syncs against the RPC backup service at url.
func WithRemoteURL(url, token string) Option {
	return platform.WithRemoteURL(url, token)
}

// WithGitRemote keeps backups in a git working directory.
func WithGitRemote(dir string) Option {
	return platform.WithGitRemote(dir)
}

// WithMessenger injects the channel backups are sent to.
func WithMessenger(m syncer.Messenger) Option {
	return platform.WithMessenger(m)
}

// WithTelegram sends backups to a Telegram chat.
func WithTelegram(token, chatID string) Option {
	return platform.WithTelegram(token, chatID)
}

// WithMetrics registers the sync collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return platform.WithMetrics(reg)
}

// --- Factory ---

// New opens the store at path and builds the application.
func New(path string, opts ...Option) (*App, error) {
	return platform.New(path, opts...)
}

// Init opens and initializes a store without the ledger on top.
func Init(path string, opts ...Option) (core.Store, error) {
	return platform.Init(path, opts...)
}

// NewCollection binds a typed collection to key.
func NewCollection[T typed.Identifiable](store core.Store, key string, opts ...typed.Option) *Collection[T] {
	return typed.NewCollection[T](store, key, opts...)
}

// --- Configuration files ---

// LoadConfig reads tally.yaml and .env from dir, then the TALLY_* environment.
func LoadConfig(dir string) (Config, error) {
	return platform.LoadConfig(dir)
}

// --- Safety & Utils ---

// ResolveDataPath determines the actual data directory based on safety rules.
func ResolveDataPath(userPath string, forceTemp bool) string {
	return platform.ResolveDataPath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot looks upwards for a .tally directory or a tally.yaml file.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
