package backup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/drivevault/internal/backend"
	"github.com/tonimelisma/drivevault/internal/catalog"
	"github.com/tonimelisma/drivevault/internal/document"
	"github.com/tonimelisma/drivevault/internal/gdrive"
)

// ErrDocsNeedOneUser means document ids were given for more or fewer than
// one principal.
var ErrDocsNeedOneUser = errors.New("backup: document ids require exactly one user")

// Recorder keeps run history. *catalog.Catalog implements it.
type Recorder interface {
	StartSession(ctx context.Context, name, runID, backend string, startedAt time.Time) error
	RecordPrincipal(ctx context.Context, session string, run catalog.PrincipalRun) error
	FinishSession(ctx context.Context, name string, status catalog.Status) error
	RecordPruned(ctx context.Context, entries []catalog.PrunedRecord) error
}

// RunnerConfig holds the inputs of a backup run. The CLI layer fills it from
// the resolved configuration.
type RunnerConfig struct {
	Connector Connector
	Backend   backend.Backend
	// BackendName is what the catalog records for the session.
	BackendName string
	// Catalog is optional.
	Catalog Recorder
	User    UserConfig
	// Principals restricts the run; empty means every user of the domain.
	Principals    []Principal
	ParallelUsers int
	KeepOnCrash   bool
	RetentionDays int
	RunID         string
	Logger        *slog.Logger
}

// RunReport summarizes a run. It is returned even when the run failed.
type RunReport struct {
	RunID      string
	Session    string
	Principals []PrincipalStats // completed principals, by login
	Prune      backend.PruneReport
	Status     catalog.Status
	Duration   time.Duration
}

// Completed returns the logins of the principals that finished.
func (r *RunReport) Completed() []string {
	logins := make([]string, len(r.Principals))
	for i, p := range r.Principals {
		logins[i] = p.Login
	}

	return logins
}

// Runner coordinates one backup run over many principals.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner returns a Runner. A missing RunID gets a fresh UUID.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.ParallelUsers < 1 {
		cfg.ParallelUsers = 1
	}

	logger := cfg.Logger.With(slog.String("run_id", cfg.RunID))
	cfg.User.Backend = cfg.Backend
	cfg.User.Logger = logger

	return &Runner{cfg: cfg, logger: logger}
}

// Run validates credentials, backs up every principal, settles the session
// and applies retention. On a fatal error the session is finalized
// (keep-on-crash) or cleaned up, exactly once, and the error is returned.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	start := time.Now()
	session := r.cfg.Backend.Session()

	report := &RunReport{RunID: r.cfg.RunID, Session: session.Name()}
	defer func() { report.Duration = time.Since(start) }()

	r.logger.Info("backup run starting",
		slog.String("session", session.Name()),
		slog.String("backend", r.cfg.BackendName),
		slog.Int("parallel_users", r.cfg.ParallelUsers),
	)

	r.record(ctx, "start session", func(ctx context.Context, rec Recorder) error {
		return rec.StartSession(ctx, session.Name(), r.cfg.RunID, r.cfg.BackendName, session.Start)
	})

	principals, err := r.resolve(ctx)
	if err != nil {
		return report, r.abort(ctx, report, err)
	}

	if err := r.runPrincipals(ctx, principals, report); err != nil {
		return report, r.abort(ctx, report, err)
	}

	if err := r.cfg.Backend.Finalize(); err != nil {
		report.Status = catalog.StatusFailed
		r.finish(ctx, report)

		return report, fmt.Errorf("backup: finalizing session %s: %w", session, err)
	}

	report.Status = catalog.StatusCompleted

	if r.cfg.RetentionDays > 0 {
		pr, err := r.prune(ctx, report.Completed())
		report.Prune = pr

		if err != nil {
			r.finish(ctx, report)
			return report, err
		}
	}

	r.finish(ctx, report)

	r.logger.Info("backup run complete",
		slog.Int("principals", len(report.Principals)),
		slog.Int("pruned", len(report.Prune.Pruned)),
		slog.Duration("duration", time.Since(start)),
	)

	return report, nil
}

// resolve validates credentials and returns the principals to process.
func (r *Runner) resolve(ctx context.Context) ([]Principal, error) {
	if err := r.cfg.Connector.Validate(ctx); err != nil {
		return nil, fmt.Errorf("backup: validating credentials: %w", err)
	}

	explicit := r.cfg.Principals

	withDocs := slices.ContainsFunc(explicit, func(p Principal) bool { return len(p.DocIDs) > 0 })
	if withDocs && len(explicit) != 1 {
		return nil, ErrDocsNeedOneUser
	}

	if len(explicit) > 0 {
		return explicit, nil
	}

	logins, err := r.cfg.Connector.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: listing users: %w", err)
	}

	out := make([]Principal, len(logins))
	for i, l := range logins {
		out[i] = Principal{Login: l}
	}

	return out, nil
}

// runPrincipals processes principals on at most ParallelUsers workers. The
// first failure cancels the rest.
func (r *Runner) runPrincipals(ctx context.Context, principals []Principal, report *RunReport) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ParallelUsers)

	var mu sync.Mutex

	for _, p := range principals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			client, err := r.cfg.Connector.Client(gctx, p.Login)
			if err != nil {
				return &SyncError{Login: p.Login, Op: OpAuthorize, Err: err}
			}

			stats, err := NewUserSync(client, p, r.cfg.User).Run(gctx)
			if err != nil {
				return err
			}

			mu.Lock()
			report.Principals = append(report.Principals, stats)
			mu.Unlock()

			r.record(gctx, "record principal", func(ctx context.Context, rec Recorder) error {
				return rec.RecordPrincipal(ctx, report.Session, catalog.PrincipalRun{
					Login:         stats.Login,
					Documents:     stats.Documents,
					Skipped:       stats.Skipped,
					Unrecoverable: stats.Unrecoverable,
					Bytes:         stats.Bytes,
				})
			})

			return nil
		})
	}

	err := g.Wait()

	slices.SortFunc(report.Principals, func(a, b PrincipalStats) int {
		return cmp.Compare(a.Login, b.Login)
	})

	return err
}

// abort settles a failed run: the session is finalized or cleaned up,
// never both.
func (r *Runner) abort(ctx context.Context, report *RunReport, cause error) error {
	r.logger.Error("backup run aborted", slog.String("error", cause.Error()))

	var settleErr error

	if r.cfg.KeepOnCrash {
		report.Status = catalog.StatusPartial
		settleErr = r.cfg.Backend.Finalize()

		r.logger.Info("kept partial session", slog.String("session", report.Session))
	} else {
		report.Status = catalog.StatusFailed
		settleErr = r.cfg.Backend.CleanUp()

		r.logger.Info("removed partial session", slog.String("session", report.Session))
	}

	r.finish(ctx, report)

	if settleErr != nil {
		return errors.Join(cause, fmt.Errorf("backup: settling session %s: %w", report.Session, settleErr))
	}

	return cause
}

func (r *Runner) finish(ctx context.Context, report *RunReport) {
	r.record(ctx, "finish session", func(ctx context.Context, rec Recorder) error {
		return rec.FinishSession(ctx, report.Session, report.Status)
	})
}

// Prune applies retention for logins without backing anything up. Only
// call it for logins whose latest backup is known good.
func (r *Runner) Prune(ctx context.Context, logins []string) (backend.PruneReport, error) {
	return r.prune(ctx, logins)
}

func (r *Runner) prune(ctx context.Context, logins []string) (backend.PruneReport, error) {
	pr, err := r.cfg.Backend.Prune(ctx, logins, r.cfg.RetentionDays)
	if err != nil {
		return pr, fmt.Errorf("backup: applying retention: %w", err)
	}

	if len(pr.Pruned) > 0 {
		entries := make([]catalog.PrunedRecord, len(pr.Pruned))
		for i, e := range pr.Pruned {
			entries[i] = catalog.PrunedRecord{Session: e.Session, Login: e.Login}
		}

		r.record(ctx, "record pruned", func(ctx context.Context, rec Recorder) error {
			return rec.RecordPruned(ctx, entries)
		})
	}

	r.logger.Info("retention applied",
		slog.Int("retention_days", r.cfg.RetentionDays),
		slog.Int("candidates", len(pr.Candidates)),
		slog.Int("pruned", len(pr.Pruned)),
		slog.Int("removed_sessions", len(pr.RemovedSessions)),
	)

	return pr, nil
}

// record writes run history. History is advisory: failures are logged, not
// returned, and writes survive cancellation of ctx.
func (r *Runner) record(ctx context.Context, what string, fn func(context.Context, Recorder) error) {
	if r.cfg.Catalog == nil {
		return
	}

	if err := fn(context.WithoutCancel(ctx), r.cfg.Catalog); err != nil {
		r.logger.Warn("catalog write failed",
			slog.String("op", what),
			slog.String("error", err.Error()),
		)
	}
}

// ListPrincipals validates credentials and returns the domain's logins.
func (r *Runner) ListPrincipals(ctx context.Context) ([]string, error) {
	if err := r.cfg.Connector.Validate(ctx); err != nil {
		return nil, fmt.Errorf("backup: validating credentials: %w", err)
	}

	logins, err := r.cfg.Connector.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: listing users: %w", err)
	}

	return logins, nil
}

// ListDocuments returns the metadata of every document of login without
// fetching content. An expired token is renewed once per listing page.
func (r *Runner) ListDocuments(ctx context.Context, login string) ([]*document.Document, error) {
	if err := r.cfg.Connector.Validate(ctx); err != nil {
		return nil, fmt.Errorf("backup: validating credentials: %w", err)
	}

	client, err := r.cfg.Connector.Client(ctx, login)
	if err != nil {
		return nil, &SyncError{Login: login, Op: OpAuthorize, Err: err}
	}

	cur := gdrive.NewCursor(client, gdrive.QueryDocuments, r.cfg.User.Retry, r.logger)
	expiredOn := -1

	var docs []*document.Document

	for {
		res, err := cur.Next(ctx)
		if err != nil {
			return nil, &SyncError{Login: login, Op: OpList, Err: err}
		}

		switch res.Kind {
		case gdrive.KindEnd:
			return docs, nil
		case gdrive.KindAuthExpired:
			if expiredOn == cur.Pages() {
				return nil, &SyncError{Login: login, Op: OpList,
					Err: fmt.Errorf("%w: %w", ErrRepeatedAuthFailure, gdrive.ErrTokenExpired)}
			}

			expiredOn = cur.Pages()

			if err := client.Authorize(ctx); err != nil {
				return nil, &SyncError{Login: login, Op: OpAuthorize, Err: err}
			}
		case gdrive.KindItem:
			docs = append(docs, document.FromFile(res.File))
		}
	}
}
