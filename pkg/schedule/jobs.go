package schedule

import (
	"context"
	"errors"

	"github.com/aretw0/tally/pkg/ledger"
	"github.com/aretw0/tally/pkg/syncer"
)

// Job names and their default schedules.
const (
	JobSync    = "auto-sync"
	JobBackup  = "backup"
	JobPromise = "expire-promises"

	DefaultSyncSpec    = "@every 15m"
	DefaultBackupSpec  = "@every 1h"
	DefaultPromiseSpec = "@every 1h"
)

// Specs overrides the default schedules; empty fields keep the default.
type Specs struct {
	Sync    string
	Backup  string
	Promise string
}

func (s Specs) orDefault() Specs {
	if s.Sync == "" {
		s.Sync = DefaultSyncSpec
	}
	if s.Backup == "" {
		s.Backup = DefaultBackupSpec
	}
	if s.Promise == "" {
		s.Promise = DefaultPromiseSpec
	}
	return s
}

// DefaultJobs builds the daemon jobs: throttled auto-sync of every market,
// the periodic backup and the expiry of overdue promises.
func DefaultJobs(l *ledger.Service, s *syncer.Syncer, specs Specs) []Job {
	specs = specs.orDefault()
	return []Job{
		{
			Name: JobSync,
			Spec: specs.Sync,
			Run: func(ctx context.Context) error {
				_, err := s.SyncAll(ctx, false)
				return err
			},
		},
		{
			Name: JobBackup,
			Spec: specs.Backup,
			Run:  s.BackupAll,
		},
		{
			Name: JobPromise,
			Spec: specs.Promise,
			Run: func(ctx context.Context) error {
				markets, err := l.Markets(ctx)
				if err != nil {
					return err
				}
				var errs []error
				for _, m := range markets {
					if _, err := l.ExpirePromises(ctx, m); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		},
	}
}
