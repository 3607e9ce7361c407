package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

var answerCmd = &cobra.Command{
	Use:   "answer <text>",
	Short: "Retrieve context and run the premium synthesis call",
	Long: `Run one retrieval pass, then send the formatted context and the
conversation to the selected premium model. A failure on both premium
providers is reported as an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := parseHistory(queryHistory)
		if err != nil {
			return err
		}
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		query := strings.Join(args, " ")
		result, err := app.Pipeline.Run(cmd.Context(), domain.PipelineRequest{
			Query:   query,
			History: history,
			TopK:    queryTopK,
		})
		if err != nil {
			return err
		}
		answer, err := synthesize(cmd.Context(), app.Selector, result, history, query)
		if err != nil {
			return err
		}
		printAnswer(cmd.OutOrStdout(), answer, len(result.Documents))
		return nil
	},
}

func init() {
	answerCmd.Flags().StringArrayVar(&queryHistory, "history", nil, "conversation turn as role:content, oldest first (repeatable)")
	answerCmd.Flags().IntVar(&queryTopK, "top-k", 0, "documents to keep after fusion (default from RAG_TOP_K)")
}

// synthesize replays the conversation followed by the query against the
// premium executor.
func synthesize(ctx context.Context, executor ports.SynthesisExecutor, result *domain.PipelineResult, history []domain.ConversationTurn, query string) (*domain.SynthesisResult, error) {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		if turn.Role == "system" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: query})

	contextText := ""
	if result.Decision.NeedsRetrieval {
		contextText = result.Context
	}
	return executor.Execute(ctx, contextText, messages)
}

func printAnswer(w io.Writer, answer *domain.SynthesisResult, documents int) {
	sel := answer.Selection
	flags := ""
	switch {
	case sel.IsDegraded:
		flags = " [degraded]"
	case sel.IsFallback:
		flags = " [fallback]"
	}
	fmt.Fprintf(w, "model: %s/%s%s, %d documents\n\n%s\n", sel.Provider, sel.Model, flags, documents, strings.TrimSpace(answer.Content))
}
