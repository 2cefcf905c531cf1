package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivevault/internal/document"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List a user's documents without downloading them",
		Args:  cobra.NoArgs,
		RunE:  runDocs,
	}

	cmd.Flags().String("user", "", "login whose documents to list")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runDocs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	login, _ := cmd.Flags().GetString("user")

	eng, err := openEngine(cmd.Context(), cc, engineOptions{parts: partConnector})
	if err != nil {
		return err
	}
	defer eng.Close(cc.Logger)

	docs, err := eng.runner.ListDocuments(cmd.Context(), login)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), newDocOutputs(docs))
	}

	printDocs(cmd.OutOrStdout(), docs)
	cc.Statusf("%d documents\n", len(docs))

	return nil
}

type docOutput struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	MimeType   string    `json:"mime_type"`
	OwnedByMe  bool      `json:"owned_by_me"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size,omitempty"`
	Exports    int       `json:"exports"`
}

func newDocOutputs(docs []*document.Document) []docOutput {
	out := make([]docOutput, len(docs))
	for i, d := range docs {
		out[i] = docOutput{
			ID:         d.ID,
			Title:      d.Title,
			MimeType:   d.MimeType,
			OwnedByMe:  d.OwnedByMe,
			ModifiedAt: d.ModifiedAt,
			Size:       d.FileSize,
			Exports:    len(d.ExportLinks),
		}
	}

	return out
}

func printDocs(w io.Writer, docs []*document.Document) {
	rows := make([][]string, len(docs))

	for i, d := range docs {
		owner := "yes"
		if !d.OwnedByMe {
			owner = "no"
		}

		size := "-"
		if d.DownloadURL != "" {
			size = formatSize(d.FileSize)
		}

		rows[i] = []string{d.ID, owner, formatTime(d.ModifiedAt), size, d.Title}
	}

	printTable(w, []string{"ID", "OWNED", "MODIFIED", "SIZE", "TITLE"}, rows)
}
