package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/localrag/internal/core/domain"
)

var fileTypes = []string{
	domain.FileTypeText,
	domain.FileTypeMarkdown,
	domain.FileTypeHTML,
	domain.FileTypePDF,
	domain.FileTypeXLSX,
}

func filterOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("doc_id", mcp.Description("Only use chunks of this document")),
		mcp.WithString("file_type", mcp.Description("Only use chunks of this source format"), mcp.Enum(fileTypes...)),
		mcp.WithString("language", mcp.Description("Only use chunks in this language"), mcp.Enum("ru", "en")),
	}
}

func askTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Answer a question from the indexed documents. The answer cites the chunks it is based on."),
		mcp.WithTitleAnnotation("Ask the knowledge base"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question in natural language"),
			mcp.MaxLength(maxQuestionRunes),
		),
	}
	return mcp.NewTool("ask", append(opts, filterOptions()...)...)
}

func searchTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Hybrid lexical and semantic search over the indexed documents, reranked, without answer generation. "+
			"Returns at most the reranker's top_k results (5 by default) whatever the limit."),
		mcp.WithTitleAnnotation("Search the knowledge base"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results, further capped by the reranker's top_k"),
			mcp.DefaultNumber(defaultSearchLimit),
			mcp.Min(1),
			mcp.Max(maxSearchLimit),
		),
	}
	return mcp.NewTool("search", append(opts, filterOptions()...)...)
}
