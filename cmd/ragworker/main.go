package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ragworker",
	Short: "Document ingestion and retrieval worker",
	Long: `ragworker chunks documents from object storage into a relational store,
indexes them into Qdrant and serves search / answer requests over HTTP
and over a message queue (Kafka or Redis Streams).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
