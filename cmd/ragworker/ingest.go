package main

import (
	"github.com/spf13/cobra"

	"ragworker/internal/app/ingest"
	"ragworker/internal/domain/rag"
)

var ingestOnce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Consume document ingest events and chunk documents",
	Long: `Consumes the doc_ingest topic. Each document is claimed through a
conditional status update, fetched from object storage, chunked and
persisted; duplicate deliveries are skipped.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestOnce, "once", false, "process a single message and exit")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(_ *cobra.Command, _ []string) error {
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
	objects, err := d.objectStore()
	if err != nil {
		return err
	}
	chunker, err := rag.NewChunker(d.cfg.RAG.ChunkSize, d.cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	pipeline := rag.NewPipeline(store, objects, chunker, rag.NewParserRegistry(d.cfg.RAG.ContentTypes...))

	consumer, err := d.consumer(ctx, d.cfg.Broker.IngestGroup, d.cfg.Broker.Topics.Ingest)
	if err != nil {
		return err
	}
	return ingest.New(consumer, pipeline).Run(ctx, ingestOnce)
}
