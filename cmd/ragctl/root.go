package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/localrag/internal/bootstrap"
	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/core/ports"
	"github.com/kirillkom/localrag/internal/observability/logging"
)

// documents is what the CLI needs from the document service.
type documents interface {
	ports.DocumentReader
	ports.DocumentRemover
}

// services are the use cases behind the commands that touch storage or indexes.
type services struct {
	Ingestor   ports.DocumentIngestor
	Answerer   ports.QuestionAnswerer
	Documents  documents
	Evaluation ports.EvaluationService
	Close      func()
}

type cli struct {
	cfg      config.Config
	logLevel string
	jsonOut  bool

	openServices func(ctx context.Context, cfg config.Config) (*services, error)
	openChunker  func(cfg config.Config) (*bootstrap.ChunkPipeline, error)
}

func newCLI() *cli {
	return &cli{
		openServices: openServices,
		openChunker:  bootstrap.NewChunkPipeline,
	}
}

// openServices wires the full application with inline processing, so an ingest returns
// only after the document is indexed or has failed.
func openServices(ctx context.Context, cfg config.Config) (*services, error) {
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{InlineProcessing: true})
	if err != nil {
		return nil, err
	}
	return &services{
		Ingestor:   app.IngestUC,
		Answerer:   app.AnswerUC,
		Documents:  app.Documents,
		Evaluation: app.EvalUC,
		Close:      app.Close,
	}, nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Local hybrid RAG command line",
		Long: `ragctl drives the document pipeline directly.

Example usage:
  ragctl ingest handbook.pdf notes.md   # Upload and index documents
  ragctl ask "How much is the basic plan?"
  ragctl chunk notes.md --json          # Show chunks without indexing
  ragctl delete <doc-id>
  ragctl eval cases.jsonl --name nightly`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.cfg = config.Load()
			level := c.cfg.LogLevel
			if c.logLevel != "" {
				level = c.logLevel
			}
			// stdout carries command output; logs go to stderr.
			slog.SetDefault(logging.New(os.Stderr, "", level, "text"))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newIngestCmd(c),
		newAskCmd(c),
		newDeleteCmd(c),
		newChunkCmd(c),
		newEvalCmd(c),
	)
	return root
}

// withServices opens the application for one command and closes it afterwards.
func (c *cli) withServices(ctx context.Context, fn func(*services) error) error {
	svc, err := c.openServices(ctx, c.cfg)
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}
