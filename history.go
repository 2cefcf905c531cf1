package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivevault/internal/catalog"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "Show past backup runs",
		Long: `List recent sessions from the run catalog, newest first. With a session
name, list that session's users instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "number of sessions to show (0 = all)")
	cmd.Flags().Bool("pruned", false, "list what retention removed")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	cat, err := catalog.Open(ctx, cc.Cfg.Backup.CatalogFile(), cc.Logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	if pruned, _ := cmd.Flags().GetBool("pruned"); pruned {
		records, err := cat.Pruned(ctx)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return writeJSON(w, records)
		}

		printPruned(w, records)

		return nil
	}

	if len(args) == 1 {
		runs, err := cat.Principals(ctx, args[0])
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return writeJSON(w, runs)
		}

		printPrincipalRuns(w, runs)

		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = -1
	}

	sessions, err := cat.Sessions(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(w, sessions)
	}

	printSessions(w, sessions)

	return nil
}

func printSessions(w io.Writer, sessions []catalog.SessionRecord) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No backup runs recorded.")
		return
	}

	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		rows[i] = []string{
			s.Name,
			string(s.Status),
			s.Backend,
			formatTime(s.StartedAt),
			formatTime(s.FinishedAt),
			fmt.Sprint(s.Principals),
			fmt.Sprint(s.Documents),
			formatSize(s.Bytes),
		}
	}

	printTable(w, []string{"SESSION", "STATUS", "BACKEND", "STARTED", "FINISHED", "USERS", "DOCUMENTS", "SIZE"}, rows)
}

func printPrincipalRuns(w io.Writer, runs []catalog.PrincipalRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No users completed in this session.")
		return
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.Login,
			fmt.Sprint(r.Documents),
			fmt.Sprint(r.Skipped),
			fmt.Sprint(r.Unrecoverable),
			formatSize(r.Bytes),
			formatTime(r.CompletedAt),
		}
	}

	printTable(w, []string{"LOGIN", "DOCUMENTS", "SKIPPED", "UNRECOVERABLE", "SIZE", "COMPLETED"}, rows)
}

func printPruned(w io.Writer, records []catalog.PrunedRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "Nothing has been pruned.")
		return
	}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.Session, r.Login, formatTime(r.PrunedAt)}
	}

	printTable(w, []string{"SESSION", "LOGIN", "PRUNED"}, rows)
}
