package main

import (
	"github.com/spf13/cobra"

	"ragworker/internal/domain/rag"
)

var embedDocCmd = &cobra.Command{
	Use:   "embed-doc [doc-id]",
	Short: "Embed the chunks of a READY document into Qdrant",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmbedDoc,
}

func init() {
	rootCmd.AddCommand(embedDocCmd)
}

func runEmbedDoc(cmd *cobra.Command, args []string) error {
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
	emb, err := d.embedder(ctx, false)
	if err != nil {
		return err
	}

	indexer := rag.NewIndexer(store, d.vectorIndex(), emb, &d.cfg.RAG)
	n, err := indexer.EmbedDocument(ctx, args[0])
	if err != nil {
		return err
	}
	cmd.Printf("embedded %d chunks for document %s\n", n, args[0])
	return nil
}
