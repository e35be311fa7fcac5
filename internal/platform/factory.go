package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
	"github.com/aretw0/tally/pkg/notify"
	"github.com/aretw0/tally/pkg/remote/gitremote"
	"github.com/aretw0/tally/pkg/remote/rpc"
	"github.com/aretw0/tally/pkg/syncer"
)

// ErrNoRemote is returned by sync operations when no remote is configured.
var ErrNoRemote = errors.New("no remote configured")

// App wires a store, the ledger over it and, when a remote is configured, the
// syncer.
type App struct {
	Store  core.Store
	Ledger *ledger.Service
	Syncer *syncer.Syncer
	Logger *slog.Logger
}

// New opens the store at uri and builds the application around it.
//
//	app, err := tally.New("./data", tally.WithRemoteURL(url, token))
func New(uri string, opts ...Option) (*App, error) {
	ctx := context.Background()
	o := defaultOptions().apply(opts)

	store, err := initStore(ctx, uri, o)
	if err != nil {
		return nil, err
	}

	app := &App{
		Store:  store,
		Ledger: ledger.NewService(store, ledger.WithLogger(o.logger)),
		Logger: o.logger,
	}

	remote, err := buildRemote(ctx, o)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if remote != nil {
		app.Syncer = syncer.New(app.Ledger, remote, syncerOptions(o)...)
	}
	return app, nil
}

func buildRemote(ctx context.Context, o *options) (syncer.Remote, error) {
	if o.remote != nil {
		return o.remote, nil
	}
	if url, _ := o.config["remote_url"].(string); url != "" {
		token, _ := o.config["remote_token"].(string)
		return rpc.NewClient(url, rpc.WithToken(token), rpc.WithLogger(o.logger)), nil
	}
	if dir, _ := o.config["git_dir"].(string); dir != "" {
		return gitremote.New(ctx, dir, gitremote.WithLogger(o.logger))
	}
	return nil, nil
}

func syncerOptions(o *options) []syncer.Option {
	out := []syncer.Option{syncer.WithLogger(o.logger)}
	if d, ok := o.config["min_interval"].(time.Duration); ok {
		out = append(out, syncer.WithMinInterval(d))
	}

	messenger := o.messenger
	if messenger == nil {
		token, _ := o.config["telegram_token"].(string)
		chat, _ := o.config["telegram_chat_id"].(string)
		if token != "" && chat != "" {
			messenger = notify.NewTelegram(token, chat, notify.WithLogger(o.logger))
		}
	}
	if messenger != nil {
		out = append(out, syncer.WithMessenger(messenger))
	}
	if o.registry != nil {
		out = append(out, syncer.WithMetrics(syncer.NewMetrics(o.registry)))
	}
	return out
}

// RequireSyncer returns the syncer or ErrNoRemote.
func (a *App) RequireSyncer() (*syncer.Syncer, error) {
	if a.Syncer == nil {
		return nil, ErrNoRemote
	}
	return a.Syncer, nil
}

// Close releases the store when it holds resources.
func (a *App) Close() error {
	if c, ok := a.Store.(core.Closer); ok {
		return c.Close()
	}
	return nil
}
