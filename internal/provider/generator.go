package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator is the "generate text" capability consumed by the answer path.
type Generator struct {
	model  model.BaseChatModel
	logger *slog.Logger
}

// NewGenerator wraps a chat model.
func NewGenerator(m model.BaseChatModel, log *slog.Logger) (*Generator, error) {
	if m == nil {
		return nil, errors.New("provider: chat model must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{model: m, logger: log}, nil
}

// Generate sends history followed by prompt as the user turn and returns the
// model's reply text.
func (g *Generator) Generate(ctx context.Context, prompt string, history []*schema.Message) (string, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, schema.UserMessage(prompt))

	start := time.Now()
	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		g.logger.Warn("provider: generation failed",
			slog.Int("messages", len(msgs)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	if out == nil {
		return "", errors.New("provider: generate: empty response")
	}
	g.logger.Debug("provider: generation complete",
		slog.Int("messages", len(msgs)),
		slog.Int("chars", len(out.Content)),
		slog.Duration("duration", time.Since(start)),
	)
	return out.Content, nil
}
