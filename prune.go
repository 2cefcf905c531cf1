package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivevault/internal/catalog"
)

var errNoCompletedRun = errors.New("no completed backup run in the catalog")

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply retention without backing up",
		Long: `Delete backups older than the retention period for users whose latest
backup is good. Age is measured from the newest completed session in the
run catalog, and only users that completed in it are pruned.`,
		Args: cobra.NoArgs,
		RunE: runPrune,
	}

	cmd.Flags().StringArray("user", nil, "prune only this login (repeatable)")
	addStorageFlags(cmd)

	return cmd
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if cc.Cfg.Backup.RetentionDays <= 0 {
		return errors.New("prune: retention is disabled (set backup.retention_days or --retention-days)")
	}

	anchor, completed, err := latestCompleted(ctx, cc.Cfg.Backup.CatalogFile(), cc.Logger)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	users, _ := cmd.Flags().GetStringArray("user")
	logins := selectLogins(completed, users, cc.Logger)

	if len(logins) == 0 {
		cc.Statusf("Nothing to prune: no selected user completed in session %s\n", anchor.Name)
		return nil
	}

	eng, err := openEngine(ctx, cc, engineOptions{parts: partStorage, sessionStart: anchor.StartedAt})
	if err != nil {
		return err
	}
	defer eng.Close(cc.Logger)

	report, err := eng.runner.Prune(ctx, logins)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	for _, e := range report.Pruned {
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %s from %s\n", e.Login, e.Session)
	}

	cc.Statusf("%d backups pruned, %d sessions removed\n", len(report.Pruned), len(report.RemovedSessions))

	return nil
}

// latestCompleted returns the newest completed session and the logins that
// completed in it.
func latestCompleted(ctx context.Context, path string, logger *slog.Logger) (catalog.SessionRecord, []string, error) {
	cat, err := catalog.Open(ctx, path, logger)
	if err != nil {
		return catalog.SessionRecord{}, nil, err
	}
	defer cat.Close()

	sessions, err := cat.Sessions(ctx, -1)
	if err != nil {
		return catalog.SessionRecord{}, nil, err
	}

	idx := slices.IndexFunc(sessions, func(s catalog.SessionRecord) bool {
		return s.Status == catalog.StatusCompleted
	})
	if idx < 0 {
		return catalog.SessionRecord{}, nil, errNoCompletedRun
	}

	runs, err := cat.Principals(ctx, sessions[idx].Name)
	if err != nil {
		return catalog.SessionRecord{}, nil, err
	}

	logins := make([]string, len(runs))
	for i, r := range runs {
		logins[i] = r.Login
	}

	return sessions[idx], logins, nil
}

// selectLogins narrows completed to the requested users. Requested users
// that did not complete are skipped with a warning.
func selectLogins(completed, requested []string, logger *slog.Logger) []string {
	if len(requested) == 0 {
		return completed
	}

	var out []string

	for _, u := range requested {
		if !slices.Contains(completed, u) {
			logger.Warn("not pruning user without a completed latest backup", slog.String("login", u))
			continue
		}

		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}

	return out
}
