package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Pipeline is the handoff between the webhook endpoint and the relay worker.
// The HTTP handler publishes verified events and returns; the worker drains
// the subscription until shutdown.
type Pipeline interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// PipelineFactory builds a pub/sub pair for a named driver.
type PipelineFactory func(cfg PipelineConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func() error, error)

var pipelineFactories = map[string]PipelineFactory{
	"gochannel": buildGoChannelPipeline,
}

// RegisterPipelineDriver registers a custom pipeline driver. Used by tests
// and by deployments that swap the in-process channel for a broker.
func RegisterPipelineDriver(name string, factory PipelineFactory) {
	if name == "" || factory == nil {
		return
	}
	pipelineFactories[strings.ToLower(name)] = factory
}

func NewPipeline(cfg PipelineConfig) (Pipeline, error) {
	logger := watermill.NewStdLogger(false, false)

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "gochannel"
	}
	factory, ok := pipelineFactories[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported pipeline driver: %s", cfg.Driver)
	}

	pub, sub, closeFn, err := factory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &watermillPipeline{publisher: pub, subscriber: sub, closeFn: closeFn}, nil
}

type watermillPipeline struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	closeFn    func() error
}

func (p *watermillPipeline) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("spreadsheet_id", event.SpreadsheetID)
	msg.Metadata.Set("action", event.Action)
	msg.Metadata.Set("resource_gid", event.ResourceGID)
	return p.publisher.Publish(topic, msg)
}

func (p *watermillPipeline) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if p.subscriber == nil {
		return nil, errors.New("pipeline has no subscriber")
	}
	return p.subscriber.Subscribe(ctx, topic)
}

func (p *watermillPipeline) Close() error {
	err := p.publisher.Close()
	if p.subscriber != nil && any(p.subscriber) != any(p.publisher) {
		err = errors.Join(err, p.subscriber.Close())
	}
	if p.closeFn != nil {
		err = errors.Join(err, p.closeFn())
	}
	return err
}

func buildGoChannelPipeline(cfg PipelineConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func() error, error) {
	// Publisher and subscriber must share the one gochannel instance or the
	// subscription never sees the published messages.
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		},
		logger,
	)
	return pubsub, pubsub, nil, nil
}

// DecodeEvent unmarshals a pipeline message back into an Event, falling back
// to message metadata for fields absent from the payload.
func DecodeEvent(msg *message.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return event, err
	}
	if event.SpreadsheetID == "" {
		event.SpreadsheetID = msg.Metadata.Get("spreadsheet_id")
	}
	if event.Action == "" {
		event.Action = msg.Metadata.Get("action")
	}
	if event.ResourceGID == "" {
		event.ResourceGID = msg.Metadata.Get("resource_gid")
	}
	return event, nil
}
