package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/queue/nats"
)

var (
	queryHistory []string
	queryTopK    int
	queryJSON    bool
	queryTimeout time.Duration
)

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, requestCmd} {
		cmd.Flags().StringArrayVar(&queryHistory, "history", nil, "conversation turn as role:content, oldest first (repeatable)")
		cmd.Flags().IntVar(&queryTopK, "top-k", 0, "documents to keep after fusion (default from RAG_TOP_K)")
		cmd.Flags().BoolVar(&queryJSON, "json", false, "print the full result as JSON")
	}
	requestCmd.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "reply timeout")
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run one retrieval pass in-process",
	Long: `Run router, expansion, hypothetical generation, hybrid retrieval and
formatting for one query and print the context block and the model selection.

Examples:
  ragctl query "Quali sono le scadenze IMU 2025?"
  ragctl query "e l'IRAP?" --history "user:Come funziona la rottamazione quinquies?"`,
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

		result, err := app.Pipeline.Run(cmd.Context(), domain.PipelineRequest{
			Query:   strings.Join(args, " "),
			History: history,
			TopK:    queryTopK,
		})
		if err != nil {
			return err
		}
		if queryJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), result)
		}
		printResult(cmd.OutOrStdout(), result)
		return nil
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <text>",
	Short: "Send one retrieval request to a running worker over NATS",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := parseHistory(queryHistory)
		if err != nil {
			return err
		}
		cfg := config.Load()
		transport, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSRequestSubject, nats.Options{Logger: newLogger()})
		if err != nil {
			return err
		}
		defer transport.Close()

		ctx := cmd.Context()
		if queryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, queryTimeout)
			defer cancel()
		}
		reply, err := transport.Request(ctx, nats.RetrievalRequest{
			Query:   strings.Join(args, " "),
			History: history,
			TopK:    queryTopK,
		})
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("worker error: %s", reply.Error)
		}
		if queryJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), reply)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "category: %s (confidence %.2f)\n", reply.Category, reply.Confidence)
		fmt.Fprintf(cmd.OutOrStdout(), "model: %s/%s\n\n%s\n", reply.Selection.Provider, reply.Selection.Model, reply.Context)
		return nil
	},
}

// parseHistory reads "role:content" turns; a turn without a known role
// prefix is treated as a user turn.
func parseHistory(raw []string) ([]domain.ConversationTurn, error) {
	turns := make([]domain.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		role, content := "user", item
		if prefix, rest, ok := strings.Cut(item, ":"); ok {
			switch strings.ToLower(strings.TrimSpace(prefix)) {
			case "user", "assistant", "system":
				role, content = strings.ToLower(strings.TrimSpace(prefix)), rest
			}
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return nil, fmt.Errorf("empty history turn %q", item)
		}
		turns = append(turns, domain.ConversationTurn{Role: role, Content: content})
	}
	return turns, nil
}

func printResult(w io.Writer, result *domain.PipelineResult) {
	decision := result.Decision
	fmt.Fprintf(w, "request: %s\n", result.RequestID)
	fmt.Fprintf(w, "category: %s (confidence %.2f", decision.Category, decision.Confidence)
	if decision.Fallback {
		fmt.Fprint(w, ", fallback")
	}
	if decision.IsFollowup {
		fmt.Fprint(w, ", follow-up")
	}
	fmt.Fprintln(w, ")")

	sel := result.Selection
	flags := ""
	switch {
	case sel.IsDegraded:
		flags = " [degraded]"
	case sel.IsFallback:
		flags = " [fallback]"
	}
	fmt.Fprintf(w, "model: %s/%s%s\n", sel.Provider, sel.Model, flags)

	if !decision.NeedsRetrieval {
		fmt.Fprintln(w, "retrieval: skipped")
		return
	}
	if result.Variants != nil {
		fmt.Fprintf(w, "lexical: %s\nsemantic: %s\nentity: %s\n",
			result.Variants.Lexical.Text, result.Variants.Semantic.Text, result.Variants.Entity.Text)
	}
	fmt.Fprintf(w, "documents: %d of %d found in %s\n\n", len(result.Documents), result.Retrieval.TotalFound,
		result.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(w, result.Context)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
