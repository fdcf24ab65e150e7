package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ragworker/internal/domain/rag"
)

var (
	queryTenant string
	queryKB     string
	queryTopK   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search a knowledge base and print ranked chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var answerCmd = &cobra.Command{
	Use:   "answer [question]",
	Short: "Answer a question from a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnswer,
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, answerCmd} {
		c.Flags().StringVar(&queryTenant, "tenant", "tenant-001", "tenant id")
		c.Flags().StringVar(&queryKB, "kb", "kb-001", "knowledge base id")
		c.Flags().IntVarP(&queryTopK, "topk", "k", 5, "number of chunks to retrieve")
		rootCmd.AddCommand(c)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	retriever, err := d.retriever(ctx)
	if err != nil {
		return err
	}
	traceID := uuid.NewString()
	ctx = rag.WithTrace(ctx, &rag.TraceInfo{TraceID: traceID})
	res, err := retriever.Search(ctx, queryTenant, queryKB, args[0], queryTopK)
	if err != nil {
		return fmt.Errorf("%s: %w", rag.Classify(err), err)
	}
	return printJSON(cmd, rag.NewSearchResultEvent("", traceID, res))
}

func runAnswer(cmd *cobra.Command, args []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	answerer, err := d.answerer(ctx)
	if err != nil {
		return err
	}
	traceID := uuid.NewString()
	ctx = rag.WithTrace(ctx, &rag.TraceInfo{TraceID: traceID})
	res, err := answerer.Answer(ctx, queryTenant, queryKB, args[0], queryTopK)
	if err != nil {
		return fmt.Errorf("%s: %w", rag.Classify(err), err)
	}
	return printJSON(cmd, rag.NewAnswerResultEvent("", traceID, res))
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
