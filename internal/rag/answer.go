package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragindex/internal/budget"
)

const systemPrompt = `You are an assistant that answers questions for the user.
You will be given a set of documents retrieved for the user's query.
Answer only from those documents and ignore any that are not relevant.
If the documents do not contain the answer, say that you cannot answer.
Reply in the language of the user's query. Be precise and concise.`

const documentPrompt = "## Document No: %d\n### Content: %s"

const footerPrompt = `Based only on the documents above, answer the user's query.
## Query:
{query}

## Answer:`

// answerTemplate renders the system turn and the user prompt. Only {documents}
// and {query} are placeholders; retrieved text is inserted as a value.
var answerTemplate = prompt.FromMessages(schema.FString,
	schema.SystemMessage(systemPrompt),
	schema.UserMessage("{documents}\n\n"+footerPrompt),
)

// TextGenerator is the generation capability the answer path needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, history []*schema.Message) (string, error)
}

// Answer is a generated answer together with the prompt that produced it.
type Answer struct {
	Answer      string            `json:"answer"`
	FullPrompt  string            `json:"full_prompt"`
	ChatHistory []*schema.Message `json:"chat_history"`
}

// Answerer answers questions from a project's indexed chunks.
type Answerer struct {
	searcher      *Searcher
	generator     TextGenerator
	contextTokens int
	logger        *slog.Logger
}

// AnswerOption configures an Answerer.
type AnswerOption func(*Answerer)

// WithContextTokens sets the prompt budget retrieved documents are fitted
// into. Lower-ranked documents are dropped first.
func WithContextTokens(n int) AnswerOption {
	return func(a *Answerer) { a.contextTokens = n }
}

// NewAnswerer constructs an Answerer.
func NewAnswerer(s *Searcher, gen TextGenerator, log *slog.Logger, opts ...AnswerOption) (*Answerer, error) {
	if s == nil {
		return nil, errors.New("rag: searcher must not be nil")
	}
	if gen == nil {
		return nil, errors.New("rag: generator must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Answerer{searcher: s, generator: gen, contextTokens: budget.DefaultMaxContextTokens, logger: log}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Answer retrieves up to limit chunks for query and asks the generator to
// answer from them. It returns nil, nil when nothing was retrieved.
func (a *Answerer) Answer(ctx context.Context, projectID, query string, limit int) (*Answer, error) {
	results, err := a.searcher.Search(ctx, projectID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		a.logger.Info("rag: no documents retrieved", "project_id", projectID)
		return nil, nil
	}

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = fmt.Sprintf(documentPrompt, i+1, r.Text)
	}

	fixed, err := render(ctx, "", query)
	if err != nil {
		return nil, err
	}
	if n := budget.FitDocuments(fixed, docs, a.contextTokens); n < len(docs) {
		a.logger.Warn("rag: retrieved documents exceed the context budget",
			slog.String("project_id", projectID),
			slog.Int("retrieved", len(docs)),
			slog.Int("kept", n),
		)
		docs = docs[:n]
	}

	msgs, err := render(ctx, strings.Join(docs, "\n"), query)
	if err != nil {
		return nil, err
	}
	history, fullPrompt := msgs[:1], msgs[1].Content

	answer, err := a.generator.Generate(ctx, fullPrompt, history)
	if err != nil {
		return nil, fmt.Errorf("rag: generate answer: %w", err)
	}
	a.logger.Debug("rag: answer generated",
		slog.String("project_id", projectID),
		slog.Int("documents", len(docs)),
		slog.Int("prompt_chars", len(fullPrompt)),
	)
	return &Answer{Answer: answer, FullPrompt: fullPrompt, ChatHistory: history}, nil
}

// render formats the answer template into its system and user messages.
func render(ctx context.Context, documents, query string) ([]*schema.Message, error) {
	msgs, err := answerTemplate.Format(ctx, map[string]any{
		"documents": documents,
		"query":     query,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: render prompt: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("rag: render prompt: got %d messages, want 2", len(msgs))
	}
	return msgs, nil
}
