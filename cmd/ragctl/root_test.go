package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/core/domain"
)

type ingestorFake struct {
	uploaded []string
	err      error
}

func (f *ingestorFake) Upload(_ context.Context, filename, _ string, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := io.ReadAll(body); err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, filename)
	return &domain.Document{ID: "doc-" + filename, Filename: filename, Status: domain.StatusUploaded}, nil
}

type answererFake struct {
	question string
	filter   domain.SearchFilter
}

func (f *answererFake) Answer(_ context.Context, question string, filter domain.SearchFilter) (*domain.Answer, error) {
	f.question = question
	f.filter = filter
	return &domain.Answer{
		Answer: "The basic plan costs 990.",
		Citations: []domain.Citation{
			{DocTitle: "Pricing", Section: "Plans", Page: 2, ChunkID: "d1_001", Confidence: 0.91},
		},
		Debug: domain.AnswerDebug{Degraded: true, DegradedSources: []string{domain.SourceReranker}},
	}, nil
}

type documentsFake struct {
	deleted string
}

func (f *documentsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	return &domain.Document{ID: id, Filename: strings.TrimPrefix(id, "doc-"), Status: domain.StatusReady, TotalChunks: 3}, nil
}

func (f *documentsFake) List(context.Context, int, int) ([]domain.Document, error) { return nil, nil }

func (f *documentsFake) Delete(_ context.Context, id string) (*domain.DeletedDocument, error) {
	if id == "missing" {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New("id=missing"))
	}
	f.deleted = id
	return &domain.DeletedDocument{DocumentID: id, LexicalRemoved: 3, DenseRemoved: 3}, nil
}

type evaluationFake struct {
	name  string
	cases []domain.EvaluationCase
}

func (f *evaluationFake) Run(_ context.Context, name string, cases []domain.EvaluationCase) (*domain.EvaluationRun, error) {
	f.name = name
	f.cases = cases
	return &domain.EvaluationRun{
		ID: "run-1", Name: name, Status: domain.EvaluationCompleted,
		TotalCases: len(cases), CompletedCases: len(cases), ConfigVersion: "abc",
	}, nil
}

func (f *evaluationFake) GetRun(context.Context, string) (*domain.EvaluationRun, []domain.EvaluationResult, error) {
	return nil, nil, nil
}

func (f *evaluationFake) ListRuns(context.Context, int) ([]domain.EvaluationRun, error) { return nil, nil }

type testEnv struct {
	cli      *cli
	ingestor *ingestorFake
	answerer *answererFake
	docs     *documentsFake
	eval     *evaluationFake
	closed   int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("ENV_FILE", "")
	t.Setenv("PIPELINE_CONFIG_PATH", "")
	t.Setenv("RERANK_RULES_PATH", "")

	env := &testEnv{
		ingestor: &ingestorFake{},
		answerer: &answererFake{},
		docs:     &documentsFake{},
		eval:     &evaluationFake{},
	}
	c := newCLI()
	c.openServices = func(context.Context, config.Config) (*services, error) {
		return &services{
			Ingestor:   env.ingestor,
			Answerer:   env.answerer,
			Documents:  env.docs,
			Evaluation: env.eval,
			Close:      func() { env.closed++ },
		}, nil
	}
	env.cli = c
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(e.cli)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRootCmdListsSubcommands(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, name := range []string{"ingest", "ask", "delete", "chunk", "eval"} {
		if !strings.Contains(out, name) {
			t.Fatalf("help output does not list %q:\n%s", name, out)
		}
	}
}

func TestIngestReportsFinalState(t *testing.T) {
	env := newTestEnv(t)
	path := writeTemp(t, "notes.md", "# Notes\n\nSome text.")

	out, err := env.run(t, "ingest", path)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(env.ingestor.uploaded) != 1 || env.ingestor.uploaded[0] != "notes.md" {
		t.Fatalf("unexpected uploads: %v", env.ingestor.uploaded)
	}
	if !strings.Contains(out, "doc-notes.md\tready\t3 chunks\tnotes.md") {
		t.Fatalf("unexpected output: %q", out)
	}
	if env.closed != 1 {
		t.Fatalf("services closed %d times, want 1", env.closed)
	}
}

func TestIngestCountsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.ingestor.err = domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty file"))
	path := writeTemp(t, "empty.txt", "x")

	out, err := env.run(t, "ingest", path, filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil || !strings.Contains(err.Error(), "2 of 2 files failed") {
		t.Fatalf("expected failure summary, got %v", err)
	}
	if !strings.Contains(out, "empty file") {
		t.Fatalf("expected per-file error in output, got %q", out)
	}
}

func TestAskPassesFilterAndPrintsSources(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "ask", "How", "much?", "--file-type", "pdf", "--language", "en")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if env.answerer.question != "How much?" {
		t.Fatalf("question = %q", env.answerer.question)
	}
	if env.answerer.filter.FileType != "pdf" || env.answerer.filter.Language != "en" {
		t.Fatalf("unexpected filter: %+v", env.answerer.filter)
	}
	for _, want := range []string{"The basic plan costs 990.", "[1] Pricing / Plans, p. 2 (0.91)", "degraded retrieval (reranker)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAskJSON(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "ask", "price", "--json")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	var answer domain.Answer
	if err := json.Unmarshal([]byte(out), &answer); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].ChunkID != "d1_001" {
		t.Fatalf("unexpected citations: %+v", answer.Citations)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "delete", "d1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if env.docs.deleted != "d1" || !strings.Contains(out, "lexical chunks: 3") {
		t.Fatalf("unexpected delete result %q, output %q", env.docs.deleted, out)
	}

	_, err = env.run(t, "delete", "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestEvalReadsJSONL(t *testing.T) {
	env := newTestEnv(t)
	path := writeTemp(t, "smoke.jsonl", `# pricing
{"id":"q1","question":"How much is basic?","ground_truth_answer":"990"}

{"question":"Refund window?","ground_truth_answer":"14 days"}
`)
	out, err := env.run(t, "eval", path)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if env.eval.name != "smoke" || len(env.eval.cases) != 2 || env.eval.cases[1].GroundTruthAnswer != "14 days" {
		t.Fatalf("unexpected run input: name=%q cases=%+v", env.eval.name, env.eval.cases)
	}
	if !strings.Contains(out, "2/2 completed") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestEvalRejectsBadLine(t *testing.T) {
	env := newTestEnv(t)
	path := writeTemp(t, "bad.jsonl", "{\"question\":\"ok\"}\nnot json\n")
	_, err := env.run(t, "eval", path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line number in error, got %v", err)
	}
	if env.eval.cases != nil {
		t.Fatalf("run should not start on a bad file")
	}
}

func TestChunkWithoutServices(t *testing.T) {
	env := newTestEnv(t)
	env.cli.openServices = func(context.Context, config.Config) (*services, error) {
		t.Fatal("chunk must not open the full application")
		return nil, nil
	}
	path := writeTemp(t, "guide.md", "# Guide\n\nInstall the agent first.\n\n## Usage\n\nRun the agent with a config file.")

	out, err := env.run(t, "chunk", path, "--doc-id", "g")
	if err != nil {
		t.Fatalf("chunk failed: %v", err)
	}
	if !strings.Contains(out, "g_001") || !strings.Contains(out, "language=en") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestChunkRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	path := writeTemp(t, "image.png", "\x89PNG")
	if _, err := env.run(t, "chunk", path); err == nil {
		t.Fatalf("expected unsupported file type error")
	}
}
