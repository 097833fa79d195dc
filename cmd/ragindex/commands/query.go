package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex/internal/rag"
)

// NewSearchCmd constructs `ragindex search`.
func NewSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <project_id> <text...>",
		Short: "Similarity search over a project's collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildSearch(ctx)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer a.close()

			results, err := a.searcher.Search(ctx, args[0], strings.Join(args[1:], " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				return errors.New("search: no results found")
			}
			return printJSON(results)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", rag.DefaultLimit, "Maximum number of results")
	return cmd
}

// NewAnswerCmd constructs `ragindex answer`.
func NewAnswerCmd() *cobra.Command {
	var limit int
	var showPrompt bool

	cmd := &cobra.Command{
		Use:   "answer <project_id> <question...>",
		Short: "Answer a question from a project's indexed chunks",
		Long: `Retrieve the chunks most similar to the question and ask the configured
model (MODEL_PROVIDER) to answer from them.

Examples:
  ragindex answer p1 what does the ledger store
  ragindex answer p1 --limit 5 --show-prompt "how are retries handled?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildSearch(ctx)
			if err != nil {
				return fmt.Errorf("answer: %w", err)
			}
			defer a.close()

			answerer, flush, err := buildAnswerer(ctx, a)
			defer flush()
			if err != nil {
				return fmt.Errorf("answer: %w", err)
			}

			ans, err := answerer.Answer(ctx, args[0], strings.Join(args[1:], " "), limit)
			if err != nil {
				return fmt.Errorf("answer: %w", err)
			}
			if ans == nil {
				return errors.New("answer: no relevant documents found")
			}
			if showPrompt {
				return printJSON(ans)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.Answer)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", rag.DefaultLimit, "Number of chunks to retrieve")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "Print the full prompt and chat history as JSON")
	return cmd
}

// NewInfoCmd constructs `ragindex info`.
func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <project_id>",
		Short: "Show a project's collection info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildSearch(ctx)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			defer a.close()

			info, err := a.vectors.GetCollectionInfo(ctx, a.searcher.Collection(args[0]))
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			return printJSON(info)
		},
	}
}

// NewCollectionsCmd constructs `ragindex collections`.
func NewCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List every collection in the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildSearch(ctx)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			defer a.close()

			names, err := a.vectors.ListCollections(ctx)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
