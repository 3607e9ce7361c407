package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/resilience"
)

var errWorkerStopping = errors.New("worker shutting down")

// Transport exposes the retrieval pipeline over NATS request/reply with a
// queue group so several workers share the load.
type Transport struct {
	conn           *nats.Conn
	requestSubject string
	contextSubject string
	queueGroup     string
	maxConcurrent  int
	executor       *resilience.Executor
	logger         *slog.Logger
}

const (
	defaultMaxConcurrent = 8
	drainTimeout         = 30 * time.Second
)

type Options struct {
	ContextSubject       string
	QueueGroup           string
	MaxConcurrent        int
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, requestSubject string, options Options) (*Transport, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats_transport")

	conn, err := nats.Connect(
		url,
		nats.Name("pratikoai-retrieval"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	queueGroup := strings.TrimSpace(options.QueueGroup)
	if queueGroup == "" {
		queueGroup = "retrieval-workers"
	}
	maxConcurrent := options.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Transport{
		conn:           conn,
		requestSubject: requestSubject,
		contextSubject: strings.TrimSpace(options.ContextSubject),
		queueGroup:     queueGroup,
		maxConcurrent:  maxConcurrent,
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (t *Transport) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}

func (t *Transport) Connected() bool {
	return t.conn != nil && t.conn.IsConnected()
}

// Serve consumes retrieval requests until ctx is cancelled, then drains.
// Up to MaxConcurrent pipelines run at once; when all slots are busy the
// subscription stops dispatching and messages queue in the client.
func (t *Transport) Serve(ctx context.Context, pipeline ports.RetrievalPipeline) error {
	pool := newHandlerPool(context.WithoutCancel(ctx), t.maxConcurrent)
	sub, err := t.conn.QueueSubscribe(t.requestSubject, t.queueGroup, func(msg *nats.Msg) {
		t.dispatch(ctx, pool, pipeline, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := t.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	t.logger.Info("transport_started", "subject", t.requestSubject, "queue_group", t.queueGroup, "max_concurrent", t.maxConcurrent)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	deadline := time.Now().Add(drainTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	pool.wait()
	if err := t.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

type handlerPool struct {
	runCtx   context.Context
	slots    chan struct{}
	inFlight sync.WaitGroup
}

// newHandlerPool runs handlers on runCtx, which outlives shutdown so accepted
// requests still get their reply.
func newHandlerPool(runCtx context.Context, size int) *handlerPool {
	return &handlerPool{runCtx: runCtx, slots: make(chan struct{}, size)}
}

func (p *handlerPool) wait() {
	p.inFlight.Wait()
}

// dispatch runs on the subscription goroutine. Once serveCtx is done, pending
// messages are answered with a temporary error so requesters can retry on
// another worker instead of timing out.
func (t *Transport) dispatch(serveCtx context.Context, pool *handlerPool, pipeline ports.RetrievalPipeline, msg *nats.Msg) {
	if serveCtx.Err() != nil {
		t.reply(pool.runCtx, msg, shutdownMessage(msg.Data))
		return
	}
	pool.slots <- struct{}{}
	pool.inFlight.Add(1)
	go func() {
		defer func() {
			<-pool.slots
			pool.inFlight.Done()
		}()
		t.reply(pool.runCtx, msg, t.handle(pool.runCtx, pipeline, msg.Data))
	}()
}

func (t *Transport) reply(ctx context.Context, msg *nats.Msg, reply ContextMessage) {
	if err := t.deliver(ctx, msg, reply); err != nil {
		t.logger.Error("deliver_context_failed", "request_id", reply.RequestID, "error", err)
	}
}

func shutdownMessage(data []byte) ContextMessage {
	var req RetrievalRequest
	_ = json.Unmarshal(data, &req)
	return ContextMessage{
		RequestID: req.RequestID,
		Error:     domain.WrapError(domain.ErrTemporary, "serve retrieval request", errWorkerStopping).Error(),
	}
}

func (t *Transport) handle(ctx context.Context, pipeline ports.RetrievalPipeline, data []byte) ContextMessage {
	var req RetrievalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ContextMessage{Error: domain.WrapError(domain.ErrInvalidInput, "decode retrieval request", err).Error()}
	}

	result, err := pipeline.Run(ctx, domain.PipelineRequest{
		RequestID: req.RequestID,
		Query:     req.Query,
		History:   req.History,
		TopK:      req.TopK,
	})
	if err != nil {
		return ContextMessage{RequestID: req.RequestID, Error: err.Error()}
	}
	return newContextMessage(result)
}

func (t *Transport) deliver(ctx context.Context, msg *nats.Msg, reply ContextMessage) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal context message: %w", err)
	}

	var (
		operation string
		call      func(context.Context) error
	)
	switch {
	case msg.Reply != "":
		operation = "nats.respond"
		call = func(context.Context) error { return msg.Respond(body) }
	case t.contextSubject != "":
		operation = "nats.publish"
		call = func(context.Context) error { return t.conn.Publish(t.contextSubject, body) }
	default:
		return nil
	}

	if t.executor != nil {
		err = t.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

// Request sends one retrieval request and waits for its context reply.
func (t *Transport) Request(ctx context.Context, req RetrievalRequest) (ContextMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ContextMessage{}, fmt.Errorf("marshal retrieval request: %w", err)
	}
	msg, err := t.conn.RequestWithContext(ctx, t.requestSubject, body)
	if err != nil {
		return ContextMessage{}, wrapTemporaryIfNeeded("nats.request", err)
	}
	var out ContextMessage
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return ContextMessage{}, domain.WrapError(domain.ErrMalformedResponse, "decode context message", err)
	}
	return out, nil
}
