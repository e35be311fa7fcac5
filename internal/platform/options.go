package platform

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/syncer"
)

// options holds the internal configuration of a tally application.
type options struct {
	store     core.Store
	remote    syncer.Remote
	messenger syncer.Messenger
	registry  prometheus.Registerer
	logger    *slog.Logger
	adapter   string
	config    map[string]interface{}
}

// Option defines a functional option for configuring tally.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		adapter: "fs",
		config:  make(map[string]interface{}),
	}
}

func (o *options) apply(opts []Option) *options {
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore injects a custom storage adapter. The adapter option is ignored.
func WithStore(store core.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithAdapter selects the storage adapter by name: "fs" (default), "sqlite"
// or "memory".
func WithAdapter(name string) Option {
	return func(o *options) {
		if name != "" {
			o.adapter = name
		}
	}
}

// WithSystemDir sets the hidden directory of the fs adapter. Defaults to ".tally".
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.config["system_dir"] = name
	}
}

// WithMustExist requires the data directory to exist already.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.config["must_exist"] = must
	}
}

// WithReadOnly opens the store read-only: writes return core.ErrReadOnly and
// nothing is created on disk.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.config["read_only"] = enabled
	}
}

// WithForceTemp forces the data into a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.config["temp_dir"] = force
	}
}

// WithDevSafety controls the sandbox used under `go run`. By default (true)
// the data path is re-rooted into a temporary directory so development runs
// never touch real ledgers.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.config["dev_safety"] = enabled
	}
}

// WithWatcherErrorHandler receives runtime failures of the fs watcher.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.config["watcher_error_handler"] = fn
	}
}

// WithMinInterval sets the sync throttle window.
func WithMinInterval(d time.Duration) Option {
	return func(o *options) {
		o.config["min_interval"] = d
	}
}

// WithRemote injects the backup remote directly.
func WithRemote(r syncer.Remote) Option {
	return func(o *options) {
		o.remote = r
	}
}

// WithRemoteURL uses the RPC backup service at url.
func WithRemoteURL(url, token string) Option {
	return func(o *options) {
		o.config["remote_url"] = url
		o.config["remote_token"] = token
	}
}

// WithGitRemote keeps backups in the git repository at dir.
func WithGitRemote(dir string) Option {
	return func(o *options) {
		o.config["git_dir"] = dir
	}
}

// WithMessenger injects the channel backups are sent to.
func WithMessenger(m syncer.Messenger) Option {
	return func(o *options) {
		o.messenger = m
	}
}

// WithTelegram sends backups to a Telegram chat.
func WithTelegram(token, chatID string) Option {
	return func(o *options) {
		o.config["telegram_token"] = token
		o.config["telegram_chat_id"] = chatID
	}
}

// WithMetrics registers the sync collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}
