package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivevault/internal/backup"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the documents of the domain's users",
		Long: `Back up every document of every user in the domain into a new session
under the backup root. Use --user to restrict the run to some users and
--doc (with exactly one --user) to back up single documents.

On failure the partial session is removed, unless --keep-on-crash is set.
Retention applies after a successful run, only to users that completed.`,
		Args: cobra.NoArgs,
		RunE: runBackup,
	}

	cmd.Flags().StringArray("user", nil, "back up only this login (repeatable)")
	cmd.Flags().StringArray("doc", nil, "back up only this document id (repeatable, needs one --user)")
	addStorageFlags(cmd)
	cmd.Flags().Bool("keep-dirs", false, "reproduce each user's folder hierarchy")
	cmd.Flags().Bool("streaming", false, "stream downloads to storage instead of buffering them")
	cmd.Flags().Bool("keep-on-crash", false, "keep the partial session when the run fails")
	cmd.Flags().StringSlice("preferred", nil, "preferred export formats, e.g. pdf,docx (merged with config)")
	cmd.Flags().StringSlice("exclusive", nil, "only download these formats (merged with config)")

	return cmd
}

// addStorageFlags registers the flags shared by commands that write to the
// backup root.
func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("root-dir", "", "backup root directory")
	cmd.Flags().String("backend", "", `storage backend: "plain" or "archive"`)
	cmd.Flags().Int("retention-days", 0, "prune completed users' backups older than this many days (0 = keep all)")
}

func runBackup(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	users, _ := cmd.Flags().GetStringArray("user")
	docs, _ := cmd.Flags().GetStringArray("doc")

	principals, err := principalsFromFlags(users, docs)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	eng, err := openEngine(ctx, cc, engineOptions{parts: partConnector | partStorage, principals: principals})
	if err != nil {
		return err
	}
	defer eng.Close(cc.Logger)

	report, runErr := eng.runner.Run(ctx)
	if cause := context.Cause(ctx); runErr != nil && errors.Is(cause, errInterrupted) {
		runErr = fmt.Errorf("%w: %w", cause, runErr)
	}

	if cc.Flags.JSON {
		if err := writeJSON(cmd.OutOrStdout(), newBackupOutput(report, runErr)); err != nil {
			return err
		}
	} else {
		printBackupReport(cmd.OutOrStdout(), report)
		cc.Statusf("Session %s %s in %s\n", report.Session, report.Status, formatDuration(report.Duration))
	}

	return runErr
}

// principalsFromFlags turns --user and --doc into explicit principals.
// No --user means every user of the domain.
func principalsFromFlags(users, docs []string) ([]backup.Principal, error) {
	if len(docs) > 0 && len(users) != 1 {
		return nil, backup.ErrDocsNeedOneUser
	}

	principals := make([]backup.Principal, 0, len(users))
	seen := make(map[string]bool, len(users))

	for _, u := range users {
		if seen[u] {
			continue
		}

		seen[u] = true
		principals = append(principals, backup.Principal{Login: u, DocIDs: docs})
	}

	return principals, nil
}

// backupOutput is the --json shape of a run.
type backupOutput struct {
	RunID      string            `json:"run_id"`
	Session    string            `json:"session"`
	Status     string            `json:"status"`
	DurationMS int64             `json:"duration_ms"`
	Principals []principalOutput `json:"principals"`
	Pruned     []prunedOutput    `json:"pruned,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type principalOutput struct {
	Login         string `json:"login"`
	Documents     int    `json:"documents"`
	Skipped       int    `json:"skipped"`
	Unrecoverable int    `json:"unrecoverable"`
	Bytes         int64  `json:"bytes"`
}

type prunedOutput struct {
	Session string `json:"session"`
	Login   string `json:"login"`
}

func newBackupOutput(report *backup.RunReport, runErr error) backupOutput {
	out := backupOutput{
		RunID:      report.RunID,
		Session:    report.Session,
		Status:     string(report.Status),
		DurationMS: report.Duration.Milliseconds(),
		Principals: make([]principalOutput, 0, len(report.Principals)),
	}

	for _, p := range report.Principals {
		out.Principals = append(out.Principals, principalOutput(p))
	}

	for _, e := range report.Prune.Pruned {
		out.Pruned = append(out.Pruned, prunedOutput{Session: e.Session, Login: e.Login})
	}

	if runErr != nil {
		out.Error = runErr.Error()
	}

	return out
}

// printBackupReport prints one row per completed user and what retention
// removed.
func printBackupReport(w io.Writer, report *backup.RunReport) {
	if len(report.Principals) == 0 {
		fmt.Fprintln(w, "No users completed.")
		return
	}

	rows := make([][]string, 0, len(report.Principals)+1)

	var docs, skipped, unrecoverable int

	var total int64

	for _, p := range report.Principals {
		rows = append(rows, []string{
			p.Login,
			fmt.Sprint(p.Documents),
			fmt.Sprint(p.Skipped),
			fmt.Sprint(p.Unrecoverable),
			formatSize(p.Bytes),
		})

		docs += p.Documents
		skipped += p.Skipped
		unrecoverable += p.Unrecoverable
		total += p.Bytes
	}

	if len(report.Principals) > 1 {
		rows = append(rows, []string{
			"TOTAL", fmt.Sprint(docs), fmt.Sprint(skipped), fmt.Sprint(unrecoverable), formatSize(total),
		})
	}

	printTable(w, []string{"LOGIN", "DOCUMENTS", "SKIPPED", "UNRECOVERABLE", "SIZE"}, rows)

	for _, e := range report.Prune.Pruned {
		fmt.Fprintf(w, "pruned %s from %s\n", e.Login, e.Session)
	}
}
