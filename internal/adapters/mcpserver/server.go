// Package mcpserver exposes the answer and search pipelines as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

const (
	ServerName    = "localrag"
	ServerVersion = "1.0.0"

	// Search returns at most the reranker's top_k results, 5 unless the pipeline config raises it.
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	maxQuestionRunes   = 2000
)

type Server struct {
	mcp      *server.MCPServer
	answerer ports.QuestionAnswerer
	searcher ports.HybridSearcher
}

func New(answerer ports.QuestionAnswerer, searcher ports.HybridSearcher) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false), server.WithRecovery()),
		answerer: answerer,
		searcher: searcher,
	}
	s.mcp.AddTool(askTool(), s.handleAsk)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks JSON-RPC over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, errLog *log.Logger) error {
	stdio := server.NewStdioServer(s.mcp)
	if errLog != nil {
		stdio.SetErrorLogger(errLog)
	}
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return mcp.NewToolResultError("question must not be empty"), nil
	}
	if len([]rune(question)) > maxQuestionRunes {
		return mcp.NewToolResultErrorf("question is longer than %d characters", maxQuestionRunes), nil
	}

	answer, err := s.answerer.Answer(ctx, question, filterFrom(request))
	if err != nil {
		return toolError("ask", err), nil
	}
	return mcp.NewToolResultStructured(answer, formatAnswer(answer)), nil
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}
	limit := request.GetInt("limit", defaultSearchLimit)
	if limit < 1 || limit > maxSearchLimit {
		return mcp.NewToolResultErrorf("limit must be between 1 and %d", maxSearchLimit), nil
	}

	results, err := s.searcher.Search(ctx, query, filterFrom(request))
	if err != nil {
		return toolError("search", err), nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	result, err := mcp.NewToolResultJSON(struct {
		Results []domain.ScoredResult `json:"results"`
	}{Results: results})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func filterFrom(request mcp.CallToolRequest) domain.SearchFilter {
	return domain.SearchFilter{
		DocID:    strings.TrimSpace(request.GetString("doc_id", "")),
		FileType: strings.TrimSpace(request.GetString("file_type", "")),
		Language: strings.TrimSpace(request.GetString("language", "")),
	}
}

// toolError reports failures as tool results so the calling model sees them. Details of
// internal and upstream errors stay in the log.
func toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return mcp.NewToolResultError(err.Error())
	case domain.IsUpstream(err), domain.IsKind(err, domain.ErrRetrievalFailed):
		slog.Warn("mcp_tool_upstream_failed", "tool", tool, "error", err)
		return mcp.NewToolResultError("the retrieval pipeline is temporarily unavailable, try again later")
	default:
		slog.Error("mcp_tool_failed", "tool", tool, "error", err)
		return mcp.NewToolResultError("internal error")
	}
}

func formatAnswer(answer *domain.Answer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer.Answer))
	if len(answer.Citations) > 0 {
		b.WriteString("\n\nSources:")
		for i, c := range answer.Citations {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, c.DocTitle)
			if c.Section != "" {
				fmt.Fprintf(&b, " / %s", c.Section)
			}
			if c.Page > 0 {
				fmt.Fprintf(&b, ", p. %d", c.Page)
			}
			fmt.Fprintf(&b, " (%s)", c.ChunkID)
		}
	}
	return b.String()
}
