package processing

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/types"
)

// EventPublisher puts pipeline events on the wire: northbound attribute
// events on the sensor subject of the originating protocol, completions on
// the completed subject of the updated attribute. Protocol drivers publish
// through it so their reflected updates re-enter the pipeline like any
// device report.
type EventPublisher struct {
	client *natsclient.Client
	logger *slog.Logger
}

// NewEventPublisher creates a publisher over the shared NATS client.
func NewEventPublisher(client *natsclient.Client, logger *slog.Logger) (*EventPublisher, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"EventPublisher", "NewEventPublisher", "nats client validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		client: client,
		logger: logger.With("component", "event-publisher"),
	}, nil
}

// PublishNorthbound publishes an attribute event on the sensor subject for
// the named protocol.
func (p *EventPublisher) PublishNorthbound(ctx context.Context, protocol string, event asset.AttributeEvent) error {
	data, err := event.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "EventPublisher", "PublishNorthbound", "encode event")
	}
	if err := p.client.Publish(ctx, types.SensorSubject(protocol), data); err != nil {
		return errors.WrapTransient(err, "EventPublisher", "PublishNorthbound", "publish sensor event")
	}
	return nil
}

// SendAttributeEvent publishes a southbound write on the client subject.
// Rule-emitted writes go through here so they re-enter the pipeline like
// any client write.
func (p *EventPublisher) SendAttributeEvent(ctx context.Context, event asset.AttributeEvent) error {
	data, err := event.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "EventPublisher", "SendAttributeEvent", "encode event")
	}
	if err := p.client.Publish(ctx, types.SubjectClient, data); err != nil {
		return errors.WrapTransient(err, "EventPublisher", "SendAttributeEvent", "publish client event")
	}
	return nil
}

// PublishCompletion announces a fully processed event on the completed
// subject for its attribute.
func (p *EventPublisher) PublishCompletion(ctx context.Context, completion asset.CompletionEvent) error {
	data, err := json.Marshal(completion)
	if err != nil {
		return errors.WrapInvalid(err, "EventPublisher", "PublishCompletion", "encode completion")
	}
	subject := types.CompletedSubject(completion.AssetID, completion.Attribute)
	if err := p.client.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "EventPublisher", "PublishCompletion", "publish completion")
	}
	return nil
}
