package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func newIngestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload and index local files",
		Long: `Upload each file, then extract, chunk and index it before returning.

Supported formats: txt, md, html, pdf, xlsx.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServices(cmd.Context(), func(svc *services) error {
				failed := 0
				for _, path := range args {
					doc, err := ingestFile(cmd, svc, path)
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
						continue
					}
					if err := printDocument(cmd, c.jsonOut, doc); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files failed", failed, len(args))
				}
				return nil
			})
		},
	}
}

func ingestFile(cmd *cobra.Command, svc *services, path string) (*domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := svc.Ingestor.Upload(cmd.Context(), filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), f)
	if err != nil {
		return nil, err
	}
	// Processing ran inline; re-read to report the final state.
	if current, err := svc.Documents.GetByID(cmd.Context(), doc.ID); err == nil {
		doc = current
	}
	return doc, nil
}

func printDocument(cmd *cobra.Command, jsonOut bool, doc *domain.Document) error {
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), doc)
	}
	line := fmt.Sprintf("%s\t%s\t%d chunks\t%s", doc.ID, doc.Status, doc.TotalChunks, doc.Filename)
	if doc.Error != "" {
		line += "\t" + doc.Error
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}
