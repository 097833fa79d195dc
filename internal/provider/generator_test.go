package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel echoes the last user message and records what it was sent.
type fakeChatModel struct {
	got []*schema.Message
	err error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage("echo: "+input[len(input)-1].Content, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{}
	g, err := NewGenerator(fake, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	history := []*schema.Message{schema.SystemMessage("you answer from documents")}
	out, err := g.Generate(context.Background(), "what is indexed?", history)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "echo: what is indexed?" {
		t.Errorf("Generate() = %q", out)
	}
	if len(fake.got) != 2 || fake.got[0].Role != schema.System || fake.got[1].Role != schema.User {
		t.Errorf("unexpected messages sent: %+v", fake.got)
	}
}

func TestGenerator_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("model offline")
	g, err := NewGenerator(&fakeChatModel{err: boom}, nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if _, err := g.Generate(context.Background(), "q", nil); !errors.Is(err, boom) {
		t.Fatalf("Generate() error = %v, want %v", err, boom)
	}
}

func TestNewGenerator_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := NewGenerator(nil, nil); err == nil {
		t.Fatal("NewGenerator(nil) error = nil")
	}
}
