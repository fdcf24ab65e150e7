package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ragworker/internal/domain/rag"
	"ragworker/internal/mq"
	applog "ragworker/internal/platform/log"
)

const (
	demoDocID     = "00000000-0000-0000-0000-000000000001"
	demoTenantID  = "tenant-001"
	demoKBID      = "kb-001"
	demoObjectKey = "tenants/tenant-001/kb-001/doc-demo.txt"
)

var (
	demoFile      string
	demoDoc       string
	demoTenant    string
	demoKB        string
	demoObject    string
	demoTraceID   string
	demoContentTy string
)

var produceDemoCmd = &cobra.Command{
	Use:   "produce-demo",
	Short: "Publish a demo ingest event",
	Long: `Publishes one ingest event to the doc_ingest topic. With --file the
file is first uploaded to the object store under the event's object key.`,
	Args: cobra.NoArgs,
	RunE: runProduceDemo,
}

func init() {
	f := produceDemoCmd.Flags()
	f.StringVar(&demoFile, "file", "", "local file to upload before publishing")
	f.StringVar(&demoDoc, "doc-id", demoDocID, "document id")
	f.StringVar(&demoTenant, "tenant", demoTenantID, "tenant id")
	f.StringVar(&demoKB, "kb", demoKBID, "knowledge base id")
	f.StringVar(&demoObject, "object-key", demoObjectKey, "object key in the bucket")
	f.StringVar(&demoTraceID, "trace-id", "demo-trace-001", "trace id")
	f.StringVar(&demoContentTy, "content-type", "text/plain", "document content type")
	rootCmd.AddCommand(produceDemoCmd)
}

func demoEvent(now time.Time) *rag.IngestEvent {
	return &rag.IngestEvent{
		TenantID:    demoTenant,
		KBID:        demoKB,
		DocID:       demoDoc,
		ObjectKey:   demoObject,
		ContentType: demoContentTy,
		TraceID:     demoTraceID,
		RequestedAt: now.UTC().Format(time.RFC3339),
	}
}

// publishIngestEvent 以 doc_id 作为消息 key，同一文档落到同一分区
func publishIngestEvent(ctx context.Context, producer mq.Producer, topic string, ev *rag.IngestEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}
	return producer.Publish(ctx, topic, []byte(ev.DocID), payload)
}

func runProduceDemo(cmd *cobra.Command, _ []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	ev := demoEvent(time.Now())

	if demoFile != "" {
		data, err := os.ReadFile(demoFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", demoFile, err)
		}
		objects, err := d.objectStore()
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return err
		}
		if err := objects.Put(ctx, ev.ObjectKey, data, ev.ContentType); err != nil {
			return err
		}
		applog.Info("demo object uploaded", "object_key", ev.ObjectKey, "bytes", len(data))
	}

	producer, err := d.producer(ctx)
	if err != nil {
		return err
	}
	topic := d.cfg.Broker.Topics.Ingest
	if err := publishIngestEvent(ctx, producer, topic, ev); err != nil {
		return err
	}
	cmd.Printf("demo message sent to topic %s (doc_id=%s)\n", topic, ev.DocID)
	return nil
}
