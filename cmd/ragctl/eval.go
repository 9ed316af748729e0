package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func newEvalCmd(c *cli) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "eval <cases.jsonl>",
		Short: "Run evaluation cases through the answer pipeline",
		Long: `Each line of the file is one case:
  {"id": "q1", "question": "...", "ground_truth_answer": "..."}

Blank lines and lines starting with # are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			cases, err := readCases(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			return c.withServices(cmd.Context(), func(svc *services) error {
				run, err := svc.Evaluation.Run(cmd.Context(), name, cases)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), run)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(),
					"run %s (%s): %s, %d/%d completed, %d failed, config %s\n",
					run.ID, run.Name, run.Status, run.CompletedCases, run.TotalCases, run.FailedCases, run.ConfigVersion)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "run name (defaults to the file name)")
	return cmd
}

func readCases(r io.Reader) ([]domain.EvaluationCase, error) {
	var cases []domain.EvaluationCase
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var c domain.EvaluationCase
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, errors.New("no cases")
	}
	return cases, nil
}
