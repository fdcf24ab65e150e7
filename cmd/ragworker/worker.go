package main

import (
	"time"

	"github.com/spf13/cobra"

	"ragworker/internal/app/worker"
	"ragworker/internal/platform/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume search / answer requests and publish results",
	Long: `Polls the search and answer request topics, executes each request with
bounded retry and publishes exactly one result or failure event per message.
A message is acknowledged only after its outcome has been published.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func workerTopics(cfg *config.AppConfig) worker.Topics {
	t := cfg.Broker.Topics
	return worker.Topics{
		SearchRequest: t.SearchRequest,
		AnswerRequest: t.AnswerRequest,
		SearchResult:  t.SearchResult,
		AnswerResult:  t.AnswerResult,
		Failure:       t.Failure,
	}
}

func runWorker(_ *cobra.Command, _ []string) error {
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

	topics := workerTopics(d.cfg)
	consumer, err := d.consumer(ctx, d.cfg.Broker.WorkerGroup, topics.SearchRequest, topics.AnswerRequest)
	if err != nil {
		return err
	}
	producer, err := d.producer(ctx)
	if err != nil {
		return err
	}

	w := worker.New(consumer, producer, answerer, worker.Options{
		Topics:      topics,
		MaxAttempts: d.cfg.Retry.WorkerMaxAttempts,
		UnitDelay:   time.Duration(d.cfg.Retry.WorkerUnitDelayMillis) * time.Millisecond,
	})
	return w.Run(ctx)
}
