package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a document, its file and its chunks from both indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServices(cmd.Context(), func(svc *services) error {
				deleted, err := svc.Documents.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), deleted)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (lexical chunks: %d, dense chunks: %d)\n",
					deleted.DocumentID, deleted.LexicalRemoved, deleted.DenseRemoved)
				return err
			})
		},
	}
}
