package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func newAskCmd(c *cli) *cobra.Command {
	var filter domain.SearchFilter
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return c.withServices(cmd.Context(), func(svc *services) error {
				answer, err := svc.Answerer.Answer(cmd.Context(), question, filter)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), answer)
				}
				return printAnswer(cmd.OutOrStdout(), answer)
			})
		},
	}
	cmd.Flags().StringVar(&filter.DocID, "doc-id", "", "restrict retrieval to one document")
	cmd.Flags().StringVar(&filter.FileType, "file-type", "", "restrict retrieval to a file type (txt, md, html, pdf, xlsx)")
	cmd.Flags().StringVar(&filter.Language, "language", "", "restrict retrieval to a language (ru, en)")
	return cmd
}

func printAnswer(w io.Writer, answer *domain.Answer) error {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer.Answer))
	b.WriteString("\n")
	if len(answer.Citations) > 0 {
		b.WriteString("\nSources:\n")
		for i, c := range answer.Citations {
			fmt.Fprintf(&b, "  [%d] %s", i+1, c.DocTitle)
			if c.Section != "" {
				fmt.Fprintf(&b, " / %s", c.Section)
			}
			if c.Page > 0 {
				fmt.Fprintf(&b, ", p. %d", c.Page)
			}
			fmt.Fprintf(&b, " (%.2f)\n", c.Confidence)
		}
	}
	if answer.Debug.Degraded {
		fmt.Fprintf(&b, "\nwarning: degraded retrieval (%s)\n", strings.Join(answer.Debug.DegradedSources, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
