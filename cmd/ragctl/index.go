package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

var indexBatchSize int

func init() {
	indexCmd.Flags().IntVar(&indexBatchSize, "batch", 64, "documents per index batch")
}

var indexCmd = &cobra.Command{
	Use:   "index <file.jsonl|->",
	Short: "Load corpus documents into the lexical and semantic indexes",
	Long: `Read one JSON document per line and load it into the configured lexical
backend (Postgres or Bleve) and the Qdrant collection.

Each line carries id, title, content, source_type, source_name and optionally
published_at (RFC 3339 or YYYY-MM-DD), url, reference_code and source_entity.

Examples:
  ragctl index corpus/circolari.jsonl
  cat corpus/*.jsonl | ragctl index -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if args[0] != "-" {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			in = file
		}
		docs, err := readDocuments(in)
		if err != nil {
			return err
		}

		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		if err := indexAll(cmd.Context(), app.Indexers, docs, indexBatchSize); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents into %d backends\n", len(docs), len(app.Indexers))
		return nil
	},
}

type corpusRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	SourceType    string `json:"source_type"`
	SourceName    string `json:"source_name"`
	PublishedAt   string `json:"published_at"`
	URL           string `json:"url"`
	ReferenceCode string `json:"reference_code"`
	SourceEntity  string `json:"source_entity"`
}

func readDocuments(r io.Reader) ([]domain.LegalDocument, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var docs []domain.LegalDocument
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec corpusRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		doc := domain.LegalDocument{
			ID:            strings.TrimSpace(rec.ID),
			Title:         rec.Title,
			Content:       rec.Content,
			SourceType:    rec.SourceType,
			SourceName:    rec.SourceName,
			URL:           rec.URL,
			ReferenceCode: rec.ReferenceCode,
			SourceEntity:  rec.SourceEntity,
		}
		if rec.PublishedAt != "" {
			published, err := parseDate(rec.PublishedAt)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			doc.PublishedAt = &published
		}
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func indexAll(ctx context.Context, indexers []ports.CorpusIndexer, docs []domain.LegalDocument, batch int) error {
	if batch <= 0 {
		batch = len(docs)
	}
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))
		for _, indexer := range indexers {
			if err := indexer.Index(ctx, docs[start:end]); err != nil {
				return fmt.Errorf("index documents %d-%d: %w", start, end, err)
			}
		}
	}
	return nil
}
