package schema

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"go.uber.org/zap"
)

const (
	StoreLocal  = "local"
	StoreRemote = "remote"
)

// EnsureReport lists the tables that could not be ensured, per store.
type EnsureReport struct {
	Tables       int                         `json:"tables"`
	LocalFailed  []*syncerr.TableEnsureError `json:"-"`
	RemoteFailed []*syncerr.TableEnsureError `json:"-"`
}

func (r *EnsureReport) OK() bool {
	return len(r.LocalFailed) == 0 && len(r.RemoteFailed) == 0
}

// FailedTables returns the names of the tables that failed on the given store.
func (r *EnsureReport) FailedTables(storeName string) []string {
	src := r.LocalFailed
	if storeName == StoreRemote {
		src = r.RemoteFailed
	}
	out := make([]string, 0, len(src))
	for _, e := range src {
		out = append(out, e.Table)
	}
	return out
}

// Diff is the drift between the registry and both stores.
type Diff struct {
	MissingLocal  []string `json:"missing_local"`
	MissingRemote []string `json:"missing_remote"`
	InAll         []string `json:"in_all"`
}

func (d *Diff) Clean() bool {
	return len(d.MissingLocal) == 0 && len(d.MissingRemote) == 0
}

type SynchronizerOpts struct {
	Timeout time.Duration // per store call, default 10s
	Logger  *zap.Logger
}

// Synchronizer makes sure every registered table exists on both stores.
type Synchronizer struct {
	reg     *Registry
	local   store.Store
	remote  store.Store
	timeout time.Duration
	log     *zap.Logger
}

func NewSynchronizer(reg *Registry, local, remote store.Store, opts SynchronizerOpts) *Synchronizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Synchronizer{
		reg:     reg,
		local:   local,
		remote:  remote,
		timeout: opts.Timeout,
		log:     opts.Logger.Named("schema"),
	}
}

// EnsureAll calls EnsureTable for every schema on local, then remote. A failed
// call is logged and reported; it never stops the loop. Once ctx is done no
// further calls are made and the remaining tables are reported as failed.
func (s *Synchronizer) EnsureAll(ctx context.Context) *EnsureReport {
	names := s.reg.Names()
	rep := &EnsureReport{Tables: len(names)}

	for _, name := range names {
		def, _ := s.reg.Get(name)

		if err := s.ensureOne(ctx, func(c context.Context) error {
			return s.local.EnsureTable(c, def)
		}); err != nil {
			rep.LocalFailed = append(rep.LocalFailed, s.fail(StoreLocal, name, err))
		}

		if err := s.ensureOne(ctx, func(c context.Context) error {
			return s.remote.EnsureTable(c, def)
		}); err != nil {
			rep.RemoteFailed = append(rep.RemoteFailed, s.fail(StoreRemote, name, err))
		}
	}

	if rep.OK() {
		s.log.Info("schemas ensured", zap.Int("tables", rep.Tables))
	} else {
		s.log.Warn("schemas partially ensured",
			zap.Int("tables", rep.Tables),
			zap.Strings("local_failed", rep.FailedTables(StoreLocal)),
			zap.Strings("remote_failed", rep.FailedTables(StoreRemote)),
		)
	}
	return rep
}

func (s *Synchronizer) ensureOne(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(cctx)
}

func (s *Synchronizer) fail(storeName, table string, err error) *syncerr.TableEnsureError {
	metrics.SchemaEnsureFailures.WithLabelValues(storeName).Inc()
	s.log.Warn("ensure table failed",
		zap.String("store", storeName),
		zap.String("table", table),
		zap.Error(err),
	)
	return &syncerr.TableEnsureError{Store: storeName, Table: table, Err: err}
}

// Diff lists table names on both stores and compares them with the registry.
func (s *Synchronizer) Diff(ctx context.Context) (*Diff, error) {
	localNames, err := s.listNames(ctx, s.local)
	if err != nil {
		return nil, fmt.Errorf("list local tables: %w", err)
	}
	remoteNames, err := s.listNames(ctx, s.remote)
	if err != nil {
		return nil, fmt.Errorf("list remote tables: %w", err)
	}

	d := &Diff{
		MissingLocal:  []string{},
		MissingRemote: []string{},
		InAll:         []string{},
	}
	for _, name := range s.reg.Names() {
		_, inLocal := localNames[name]
		_, inRemote := remoteNames[name]
		if !inLocal {
			d.MissingLocal = append(d.MissingLocal, name)
		}
		if !inRemote {
			d.MissingRemote = append(d.MissingRemote, name)
		}
		if inLocal && inRemote {
			d.InAll = append(d.InAll, name)
		}
	}
	sort.Strings(d.MissingLocal)
	sort.Strings(d.MissingRemote)
	sort.Strings(d.InAll)
	return d, nil
}

func (s *Synchronizer) listNames(ctx context.Context, st store.Store) (map[string]struct{}, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names, err := st.ListTableNames(cctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}
