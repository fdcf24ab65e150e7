// Package worker 异步 search/answer 请求处理循环。
//
// 每条消息：解析校验 -> 有界重试执行 -> 发布结果或失败事件 -> 提交。
// 只有事件确认发布后才提交；发布最终失败时不提交并退出循环，由消费组重新投递。
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragworker/internal/domain/rag"
	"ragworker/internal/mq"
	applog "ragworker/internal/platform/log"
	"ragworker/internal/platform/retry"
)

// Topics 请求与结果主题
type Topics struct {
	SearchRequest string
	AnswerRequest string
	SearchResult  string
	AnswerResult  string
	Failure       string
}

// DefaultTopics 默认主题名
func DefaultTopics() Topics {
	return Topics{
		SearchRequest: "rag_search_request",
		AnswerRequest: "rag_answer_request",
		SearchResult:  "rag_search_result",
		AnswerResult:  "rag_answer_result",
		Failure:       "rag_failed",
	}
}

// Options 循环参数
type Options struct {
	Topics      Topics
	MaxAttempts int
	UnitDelay   time.Duration
	// IdleBackoff Fetch 出错后的等待
	IdleBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Topics == (Topics{}) {
		o.Topics = DefaultTopics()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.UnitDelay <= 0 {
		o.UnitDelay = 500 * time.Millisecond
	}
	if o.IdleBackoff <= 0 {
		o.IdleBackoff = time.Second
	}
	return o
}

// ErrPublishFailed 结果/失败事件发布失败，消息未提交
var ErrPublishFailed = errors.New("worker: publish failed")

type route struct {
	taskType    rag.TaskType
	resultTopic string
}

// Worker 请求处理循环
type Worker struct {
	consumer mq.Consumer
	producer mq.Producer
	answerer *rag.Answerer
	opts     Options
	routes   map[string]route
	policy   retry.Policy
	publish  retry.Policy
}

// New 创建 worker
func New(consumer mq.Consumer, producer mq.Producer, answerer *rag.Answerer, opts Options) *Worker {
	opts = opts.withDefaults()
	w := &Worker{
		consumer: consumer,
		producer: producer,
		answerer: answerer,
		opts:     opts,
		routes: map[string]route{
			opts.Topics.SearchRequest: {taskType: rag.TaskSearch, resultTopic: opts.Topics.SearchResult},
			opts.Topics.AnswerRequest: {taskType: rag.TaskAnswer, resultTopic: opts.Topics.AnswerResult},
		},
	}
	w.policy = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     retry.Linear(opts.UnitDelay),
		Retryable:   rag.IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			applog.Warn("[Worker] Retrying task", "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
		},
	}
	w.publish = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     retry.Linear(opts.UnitDelay),
	}
	return w
}

// RequestTopics 需要订阅的主题
func (w *Worker) RequestTopics() []string {
	return []string{w.opts.Topics.SearchRequest, w.opts.Topics.AnswerRequest}
}

// Run 循环直到 ctx 取消（返回 nil）或发生致命错误
func (w *Worker) Run(ctx context.Context) error {
	applog.Info("[Worker] Loop started", "topics", w.RequestTopics())
	for {
		if ctx.Err() != nil {
			applog.Info("[Worker] Loop stopped")
			return nil
		}

		msg, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				applog.Info("[Worker] Loop stopped")
				return nil
			}
			if errors.Is(err, mq.ErrClosed) {
				return err
			}
			applog.Error("[Worker] Fetch failed", "error", err)
			sleep(ctx, w.opts.IdleBackoff)
			continue
		}
		if msg == nil {
			continue
		}

		// 已取出的消息即使收到退出信号也处理完
		if err := w.HandleMessage(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}
}

// HandleMessage 处理单条消息并提交；只有发布失败会返回错误
func (w *Worker) HandleMessage(ctx context.Context, msg *mq.Message) error {
	start := time.Now()
	log := applog.Component("worker").With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	rt, ok := w.routes[msg.Topic]
	if !ok {
		log.Warn("[Worker] Unknown topic, committing without processing")
		w.commit(ctx, msg)
		return nil
	}

	req, attempts, payload, err := w.execute(ctx, rt.taskType, msg.Value)

	var (
		topic = rt.resultTopic
		code  rag.ErrorCode
		key   string
	)
	if req != nil {
		key = req.RequestID
		if key == "" {
			key = req.TraceID
		}
	}
	if err != nil {
		code = rag.Classify(err)
		topic = w.opts.Topics.Failure
		ev := rag.FailureEvent{Type: rt.taskType, Error: rag.ErrorBody{Code: code, Message: err.Error()}}
		if req != nil {
			ev.RequestID, ev.TraceID = req.RequestID, req.TraceID
		}
		payload, _ = json.Marshal(ev)
	}

	if _, perr := w.publish.Do(ctx, func(ctx context.Context, _ int) error {
		return w.producer.Publish(ctx, topic, []byte(key), payload)
	}); perr != nil {
		log.Error("[Worker] Publish failed, message left uncommitted", "result_topic", topic, "error", perr)
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, topic, perr)
	}

	w.commit(ctx, msg)

	status := "OK"
	if err != nil {
		status = "ERROR"
	}
	attrs := []any{
		"type", string(rt.taskType),
		"status", status,
		"attempts", attempts,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if req != nil {
		attrs = append(attrs, "request_id", req.RequestID, "trace_id", req.TraceID)
	}
	if err != nil {
		attrs = append(attrs, "code", string(code), "error", err)
		log.Warn("[Worker] Request completed", attrs...)
	} else {
		log.Info("[Worker] Request completed", attrs...)
	}
	return nil
}

// execute 解析校验并在重试策略下执行；返回已编码的结果事件
func (w *Worker) execute(ctx context.Context, t rag.TaskType, value []byte) (*rag.TaskRequest, int, []byte, error) {
	req, err := rag.DecodeTaskRequest(value)
	if err != nil {
		return nil, 0, nil, err
	}
	if err := validate(req, t); err != nil {
		return req, 0, nil, err
	}

	topK := w.answerer.Retriever().DefaultTopK()
	if req.TopK != nil {
		topK = *req.TopK
	}
	ctx = rag.WithTrace(ctx, &rag.TraceInfo{RequestID: req.RequestID, TraceID: req.TraceID})

	var result any
	attempts, err := w.policy.Do(ctx, func(ctx context.Context, _ int) error {
		switch t {
		case rag.TaskAnswer:
			res, err := w.answerer.Answer(ctx, req.TenantID, req.KBID, req.Question, topK)
			if err != nil {
				return err
			}
			result = rag.NewAnswerResultEvent(req.RequestID, req.TraceID, res)
		default:
			res, err := w.answerer.Retriever().Search(ctx, req.TenantID, req.KBID, req.Query, topK)
			if err != nil {
				return err
			}
			result = rag.NewSearchResultEvent(req.RequestID, req.TraceID, res)
		}
		return nil
	})
	if err != nil {
		return req, attempts, nil, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return req, attempts, nil, fmt.Errorf("encode result: %w", err)
	}
	return req, attempts, payload, nil
}

// validate 异步请求额外要求 request_id / trace_id；其余字段由检索层校验
func validate(req *rag.TaskRequest, t rag.TaskType) error {
	missing := func(name string) error {
		return fmt.Errorf("%w: missing field %s", rag.ErrInvalidRequest, name)
	}
	switch {
	case strings.TrimSpace(req.RequestID) == "":
		return missing("request_id")
	case strings.TrimSpace(req.TraceID) == "":
		return missing("trace_id")
	case strings.TrimSpace(req.TenantID) == "":
		return missing("tenant_id")
	case strings.TrimSpace(req.KBID) == "":
		return missing("kb_id")
	case strings.TrimSpace(req.Text(t)) == "":
		if t == rag.TaskAnswer {
			return missing("question")
		}
		return missing("query")
	case req.TopK != nil && *req.TopK <= 0:
		return fmt.Errorf("%w: topk must be > 0", rag.ErrInvalidRequest)
	}
	return nil
}

func (w *Worker) commit(ctx context.Context, msg *mq.Message) {
	if err := w.consumer.Commit(ctx, msg); err != nil {
		applog.Error("[Worker] Commit failed, message may be redelivered",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
