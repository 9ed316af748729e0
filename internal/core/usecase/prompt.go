package usecase

import (
	"strconv"
	"strings"

	"github.com/kirillkom/localrag/internal/core/domain"
)

const (
	unknownDocTitle = "Unknown Document"
	unknownSource   = "unknown"
)

const answerPromptTemplate = `Контекст из документов:
{context}

Вопрос пользователя: {question}

Инструкции:
- Отвечай только на основе предоставленного контекста
- Обязательно включай цитаты в формате [source: название_документа, page номер_страницы]
- Если информации недостаточно, честно скажи "Недостаточно данных для точного ответа"
- Отвечай кратко и точно
- Используй только ту информацию, которая есть в контексте

Ответ:`

// BuildAnswerPrompt renders the grounded-answer prompt around an assembled context.
func BuildAnswerPrompt(question, context string) string {
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(answerPromptTemplate)
}

// contextEntry renders one result as a citation header followed by its trimmed text.
func contextEntry(res domain.ScoredResult) string {
	var b strings.Builder
	b.WriteString("[Document: ")
	b.WriteString(docTitle(res.Metadata))
	if res.Metadata.Page > 0 {
		b.WriteString(", Page ")
		b.WriteString(strconv.Itoa(res.Metadata.Page))
	}
	if res.Metadata.Section != "" {
		b.WriteString(", Section: ")
		b.WriteString(res.Metadata.Section)
	}
	b.WriteString(", Source: ")
	b.WriteString(docSource(res.Metadata))
	b.WriteString("]\n")
	b.WriteString(strings.TrimSpace(res.Text))
	b.WriteString("\n")
	return b.String()
}

func docTitle(m domain.ChunkMetadata) string {
	if m.DocTitle == "" {
		return unknownDocTitle
	}
	return m.DocTitle
}

func docSource(m domain.ChunkMetadata) string {
	if m.Source == "" {
		return unknownSource
	}
	return m.Source
}
