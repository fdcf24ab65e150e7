package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ragworker/internal/domain/rag"
)

var checkDocID string

var checkStoreCmd = &cobra.Command{
	Use:   "check-store",
	Short: "Walk a probe document through the status transitions",
	Long: `Creates (or reuses) a probe document and exercises the conditional
status transitions against the configured database, printing the
document state after each step.`,
	Args: cobra.NoArgs,
	RunE: runCheckStore,
}

func init() {
	checkStoreCmd.Flags().StringVar(&checkDocID, "doc-id", demoDocID, "probe document id")
	rootCmd.AddCommand(checkStoreCmd)
}

func runCheckStore(cmd *cobra.Command, _ []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	store, err := d.store(ctx)
	if err != nil {
		return err
	}
	return checkStore(ctx, store, cmd.OutOrStdout(), checkDocID)
}

func checkStore(ctx context.Context, store rag.DocumentStore, out io.Writer, docID string) error {
	if err := store.EnsureExists(ctx, docID, demoTenantID, demoKBID); err != nil {
		return err
	}
	if err := printState(ctx, store, out, docID, "initial state"); err != nil {
		return err
	}

	claimed, err := store.MarkProcessing(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "mark_processing -> %t\n", claimed)
	if err := printState(ctx, store, out, docID, "after mark_processing"); err != nil {
		return err
	}

	if err := store.MarkReady(ctx, docID, 2); err != nil {
		return err
	}
	if err := printState(ctx, store, out, docID, "after mark_ready"); err != nil {
		return err
	}

	again, err := store.MarkProcessing(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "mark_processing (retry) -> %t\n", again)
	if again {
		return fmt.Errorf("READY document %s was claimed again", docID)
	}
	return printState(ctx, store, out, docID, "final state")
}

func printState(ctx context.Context, store rag.DocumentStore, out io.Writer, docID, label string) error {
	doc, err := store.FetchDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%s: %w: %s", label, rag.ErrDocumentNotFound, docID)
	}
	fmt.Fprintf(out, "%s: doc_id=%s status=%s chunk_count=%d", label, doc.ID, doc.Status, doc.ChunkCount)
	if doc.ErrorMessage != "" {
		fmt.Fprintf(out, " error=%s", doc.ErrorMessage)
	}
	fmt.Fprintln(out)
	return nil
}
