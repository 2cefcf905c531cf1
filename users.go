package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the domain's users",
		Long:  "Validate the service account's delegation and list the logins a backup would cover.",
		Args:  cobra.NoArgs,
		RunE:  runUsers,
	}
}

func runUsers(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	eng, err := openEngine(cmd.Context(), cc, engineOptions{parts: partConnector})
	if err != nil {
		return err
	}
	defer eng.Close(cc.Logger)

	logins, err := eng.runner.ListPrincipals(cmd.Context())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if logins == nil {
			logins = []string{}
		}

		return writeJSON(cmd.OutOrStdout(), logins)
	}

	for _, l := range logins {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}

	cc.Statusf("%d users\n", len(logins))

	return nil
}
