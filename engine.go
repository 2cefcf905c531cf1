package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/tonimelisma/drivevault/internal/backend"
	"github.com/tonimelisma/drivevault/internal/backup"
	"github.com/tonimelisma/drivevault/internal/catalog"
	"github.com/tonimelisma/drivevault/internal/config"
	"github.com/tonimelisma/drivevault/internal/document"
	"github.com/tonimelisma/drivevault/internal/gdrive"
	"github.com/tonimelisma/drivevault/internal/retry"
)

// engineParts selects what openEngine builds. Listing commands need only the
// domain connection; prune needs only storage.
type engineParts int

const (
	partConnector engineParts = 1 << iota
	partStorage
)

// engineOptions selects what openEngine builds and how.
type engineOptions struct {
	parts      engineParts
	principals []backup.Principal
	// sessionStart names the backend session; zero means now.
	sessionStart time.Time
}

// engine is a Runner plus the resources it holds open.
type engine struct {
	runner  *backup.Runner
	catalog *catalog.Catalog
	release func()
}

// Close releases the root lock and the catalog.
func (e *engine) Close(logger *slog.Logger) {
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil {
			logger.Warn("closing catalog", slog.String("error", err.Error()))
		}
	}

	if e.release != nil {
		e.release()
	}
}

// openEngine builds a Runner from the resolved configuration. With
// partStorage, the backup root is locked for the engine's lifetime and the
// catalog is opened; a catalog that cannot be opened only disables history.
func openEngine(ctx context.Context, cc *CLIContext, opts engineOptions) (*engine, error) {
	cfg := cc.Cfg
	logger := cc.Logger
	policy := retryPolicy(cfg, logger)

	rc := backup.RunnerConfig{
		User:          userConfig(cfg, policy, logger),
		Principals:    opts.principals,
		ParallelUsers: cfg.Backup.ParallelUsers,
		KeepOnCrash:   cfg.Backup.KeepOnCrash,
		RetentionDays: cfg.Backup.RetentionDays,
		Logger:        logger,
	}

	if opts.parts&partConnector != 0 {
		conn, err := newConnector(cfg, policy, logger)
		if err != nil {
			return nil, err
		}

		rc.Connector = conn
	}

	e := &engine{}

	if opts.parts&partStorage != 0 {
		if err := cfg.Require("backup.root_dir"); err != nil {
			return nil, err
		}

		start := opts.sessionStart
		if start.IsZero() {
			start = time.Now()
		}

		b, kind, err := newBackend(cfg, start, logger)
		if err != nil {
			return nil, err
		}

		release, err := acquireRootLock(cfg.Backup.RootDir)
		if err != nil {
			return nil, err
		}

		e.release = release
		rc.Backend = b
		rc.BackendName = string(kind)

		cat, err := catalog.Open(ctx, cfg.Backup.CatalogFile(), logger)
		if err != nil {
			logger.Warn("run history disabled",
				slog.String("path", cfg.Backup.CatalogFile()),
				slog.String("error", err.Error()),
			)
		} else {
			e.catalog = cat
			rc.Catalog = cat
		}
	}

	e.runner = backup.NewRunner(rc)

	return e, nil
}

// retryPolicy turns the [retry] section into the policy shared by every
// network operation.
func retryPolicy(cfg *config.Config, logger *slog.Logger) retry.Policy {
	return retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.InitialDelayDuration(),
		Factor:   cfg.Retry.Factor,
		MaxDelay: cfg.Retry.MaxDelayDuration(),
		Clock:    clock.WallClock,
		Logger:   logger,
	}
}

func userConfig(cfg *config.Config, policy retry.Policy, logger *slog.Logger) backup.UserConfig {
	return backup.UserConfig{
		Fetch: document.FetcherOptions{
			Formats: document.Formats{
				Preferred: cfg.Formats.Preferred,
				Exclusive: cfg.Formats.Exclusive,
			},
			Streaming: cfg.Backup.Streaming,
			ChunkSize: int(cfg.Backup.ChunkSizeBytes()),
			TempDir:   cfg.Backup.SpoolDir,
			Logger:    logger,
		},
		OwnerOnly:      cfg.Backup.OwnerOnly,
		KeepDirs:       cfg.Backup.KeepDirs,
		AuthRetryPause: cfg.Backup.AuthRetryPauseDuration(),
		MaxFolderDepth: cfg.Backup.MaxFolderDepth,
		Retry:          policy,
		Logger:         logger,
	}
}

// newConnector loads the service-account key and returns the connection to
// the domain. The key is only parsed here; delegation is checked by the
// runner before any user is touched.
func newConnector(cfg *config.Config, policy retry.Policy, logger *slog.Logger) (*backup.GoogleConnector, error) {
	if err := cfg.Require("google.domain", "google.admin_login", "google.key_file"); err != nil {
		return nil, err
	}

	scopes := cfg.Google.Scopes
	if len(scopes) == 0 {
		scopes = gdrive.DefaultScopes
	}

	creds, err := gdrive.LoadCredentials(cfg.Google.KeyFile, scopes, policy, logger)
	if err != nil {
		return nil, err
	}

	return &backup.GoogleConnector{
		Credentials: creds,
		Domain:      cfg.Google.Domain,
		AdminLogin:  cfg.Google.AdminLogin,
		Options: gdrive.Options{
			HTTPClient: &http.Client{Timeout: cfg.Network.TimeoutDuration()},
			Retry:      policy,
			UserAgent:  cfg.Network.UserAgent,
			Logger:     logger,
		},
	}, nil
}

// newBackend builds the configured storage backend for a session starting
// at start.
func newBackend(cfg *config.Config, start time.Time, logger *slog.Logger) (backend.Backend, backend.Kind, error) {
	kind, err := backend.ParseKind(cfg.Backup.Backend)
	if err != nil {
		return nil, "", err
	}

	opts := backend.Options{
		Root:     cfg.Backup.RootDir,
		Session:  backend.NewSession(start),
		KeepDirs: cfg.Backup.KeepDirs,
		Logger:   logger,
	}

	if kind == backend.KindArchive {
		if opts.Compression, err = backend.ParseCompression(cfg.Backup.Compression); err != nil {
			return nil, "", err
		}
	}

	b, err := backend.New(kind, opts)
	if err != nil {
		return nil, "", err
	}

	return b, kind, nil
}
