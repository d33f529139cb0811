package relay

import (
	"context"
	"errors"
	"log"

	"sheetrelay/internal"
)

// Worker drains the event pipeline and applies each event through the
// reconciler. It exists so the webhook endpoint can acknowledge deliveries
// immediately; nothing is processed fire-and-forget.
type Worker struct {
	pipeline   internal.Pipeline
	topic      string
	reconciler *Reconciler
	logger     *log.Logger
	onDone     func(action string)
}

func NewWorker(pipeline internal.Pipeline, topic string, reconciler *Reconciler, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		pipeline:   pipeline,
		topic:      topic,
		reconciler: reconciler,
		logger:     logger,
		onDone:     internal.IncEventProcessed,
	}
}

// Run subscribes to the event topic and processes messages until the
// subscription closes. Shutdown stops the worker by closing the pipeline,
// which lets every already-published event drain first; returning on ctx
// alone would drop events that were acknowledged with a 200. Events that
// fail are logged and acked: the upstream service redelivers on its own
// schedule, and nacking an in-process channel would just spin.
func (w *Worker) Run(ctx context.Context) error {
	if w.pipeline == nil {
		return errors.New("worker: pipeline is required")
	}
	messages, err := w.pipeline.Subscribe(ctx, w.topic)
	if err != nil {
		return err
	}

	// An accepted event runs to completion even when ctx is canceled
	// mid-reconcile.
	applyCtx := context.WithoutCancel(ctx)

	for msg := range messages {
		event, err := internal.DecodeEvent(msg)
		if err != nil {
			w.logger.Printf("decode event failed: %v", err)
			msg.Ack()
			continue
		}
		if err := w.reconciler.Apply(applyCtx, event); err != nil {
			w.logger.Printf("reconcile %s %s failed: %v", event.Action, event.ResourceGID, err)
		} else if w.onDone != nil {
			w.onDone(event.Action)
		}
		msg.Ack()
	}
	return nil
}
