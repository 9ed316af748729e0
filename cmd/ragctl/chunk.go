package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/localrag/internal/core/domain"
)

const previewRunes = 80

func newChunkCmd(c *cli) *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Extract and chunk a local file without indexing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			fileType, ok := domain.DetectFileType(path, mime.TypeByExtension(filepath.Ext(path)))
			if !ok {
				return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
			}

			pipeline, err := c.openChunker(c.cfg)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			extracted, err := pipeline.Extractor.ExtractReader(cmd.Context(), fileType, f)
			if err != nil {
				return err
			}
			chunks, err := pipeline.ChunkUC.IngestChunks(cmd.Context(), extracted.Text, domain.ChunkSource{
				DocID:     docID,
				Title:     domain.TitleFromFilename(path),
				Source:    filepath.Base(path),
				FileType:  fileType,
				Language:  extracted.Language,
				Pages:     extracted.Pages,
				CreatedAt: info.ModTime().UTC(),
			})
			if err != nil {
				return err
			}

			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), chunks)
			}
			out := cmd.OutOrStdout()
			for _, ch := range chunks {
				section := ch.Metadata.Section
				if section == "" {
					section = "-"
				}
				fmt.Fprintf(out, "%s\ttokens=%d\tchars=%d-%d\tsection=%s\t%s\n",
					ch.ChunkID, ch.TokenCount, ch.CharStart, ch.CharEnd, section, preview(ch.Text))
			}
			_, err = fmt.Fprintf(out, "%d chunks, language=%s\n", len(chunks), extracted.Language)
			return err
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "local", "document id used to build chunk ids")
	return cmd
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
