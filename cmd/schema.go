package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/flowgram/internal/store/pg"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the canonical Postgres DDL",
		Long:  "Prints the users, step_states, and form_entries DDL. Pipe into psql to apply directly, or use it as the first migration file.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(pg.Schema)
		},
	}
}
