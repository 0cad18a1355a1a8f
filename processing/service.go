// Package processing implements the attribute event pipeline: a validation
// and ordering gate in front of the asset store, and a fixed consumer chain
// that every accepted update is dispatched through. Events enter from the
// sensor subjects (northbound), the client subject (southbound) or
// in-process submission; per-attribute ordering holds because one goroutine
// drains the ingress queue.
package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/service"
	"github.com/c360/assetmesh/types"
)

const defaultQueueSize = 1024

// ServiceConfig holds configuration for the processing service.
type ServiceConfig struct {
	QueueSize int `json:"queue_size"`
}

// Validate checks if the configuration is valid
func (c ServiceConfig) Validate() error {
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size cannot be negative: %d", c.QueueSize)
	}
	return nil
}

// Deps carries the collaborators the processing service is wired with. The
// consumer chain order is part of the processing contract and is fixed by
// the caller, not discovered.
type Deps struct {
	NATS        *natsclient.Client // optional; nil means in-process submission only
	Store       assetstore.Store
	Consumers   []Consumer
	Completions CompletionPublisher
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger
	GateOptions []GateOption
}

type queuedEvent struct {
	event      asset.AttributeEvent
	northbound bool
	source     string
}

// Service runs the event pipeline. It subscribes the sensor wildcard and the
// client subject, funnels everything into a bounded ingress queue and drains
// it with a single goroutine through gate and dispatcher.
type Service struct {
	*service.BaseService

	gate       *Gate
	dispatcher *Dispatcher
	client     *natsclient.Client
	logger     *slog.Logger
	metrics    *processingMetrics

	queue  chan queuedEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the processing service.
func New(rawConfig json.RawMessage, deps Deps) (*Service, error) {
	var cfg ServiceConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Service", "New", "parse processing config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Service", "New", "validate processing config")
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "processing")

	metrics := newProcessingMetrics(deps.Metrics)

	gate, err := NewGate(deps.Store, logger, metrics, deps.GateOptions...)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(deps.Consumers, deps.Completions, logger, metrics)
	if err != nil {
		return nil, err
	}

	base := service.NewBaseServiceWithOptions(
		"processing",
		nil,
		service.WithLogger(logger),
		service.WithMetrics(deps.Metrics),
		service.WithNATS(deps.NATS),
	)

	return &Service{
		BaseService: base,
		gate:        gate,
		dispatcher:  dispatcher,
		client:      deps.NATS,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan queuedEvent, cfg.QueueSize),
	}, nil
}

// Start begins draining the ingress queue and, when a NATS client is wired,
// subscribes the ingress subjects.
func (s *Service) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.drain(runCtx)

	if s.client != nil {
		if err := s.client.SubscribeSubject(runCtx, types.SensorWildcard(), s.handleSensor); err != nil {
			cancel()
			return errors.WrapTransient(err, "Service", "Start", "subscribe sensor subjects")
		}
		if err := s.client.Subscribe(runCtx, types.SubjectClient, s.handleClient); err != nil {
			cancel()
			return errors.WrapTransient(err, "Service", "Start", "subscribe client subject")
		}
	} else {
		s.logger.Info("no transport wired, accepting in-process submissions only")
	}

	s.logger.Info("processing service started",
		"queue_size", cap(s.queue),
		"consumers", s.consumerNames(),
	)
	return nil
}

// Stop halts the drain goroutine. Events still queued are dropped; ingestion
// is fire-and-forget end to end.
func (s *Service) Stop(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}

	if timeout == 0 {
		timeout = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("drain goroutine did not stop in time")
	}

	return s.BaseService.Stop(timeout)
}

// SubmitSensor enqueues a northbound event as if it arrived from the named
// protocol's sensor subject.
func (s *Service) SubmitSensor(_ context.Context, event asset.AttributeEvent, protocolName string) error {
	return s.enqueue(event, true, protocolName)
}

// SubmitClient enqueues a southbound client write.
func (s *Service) SubmitClient(_ context.Context, event asset.AttributeEvent) error {
	return s.enqueue(event, false, "client")
}

// SendAttributeEvent delivers rule-emitted writes into the southbound path.
func (s *Service) SendAttributeEvent(ctx context.Context, event asset.AttributeEvent) error {
	return s.SubmitClient(ctx, event)
}

// enqueue admits an event to the ingress queue. Overflow drops the newest
// event: the queue bounds memory, not delivery.
func (s *Service) enqueue(event asset.AttributeEvent, northbound bool, source string) error {
	s.metrics.recordReceived(source)

	select {
	case s.queue <- queuedEvent{event: event, northbound: northbound, source: source}:
		s.metrics.setQueueDepth(len(s.queue))
		return nil
	default:
		s.metrics.recordDrop()
		s.logger.Warn("ingress queue full, event dropped",
			"asset", event.AssetID,
			"attribute", event.Attribute,
			"source", source,
		)
		return errors.WrapTransient(
			fmt.Errorf("%w: ingress queue full", errors.ErrRateLimited),
			"Service", "enqueue", "queue overflow")
	}
}

// drain is the single pipeline worker; one worker keeps per-attribute
// ordering intact between gate and dispatch.
func (s *Service) drain(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.queue:
			s.metrics.setQueueDepth(len(s.queue))
			s.RecordActivity(1)

			state, err := s.gate.Submit(ctx, item.event, item.northbound)
			if err != nil {
				continue
			}
			s.dispatcher.Dispatch(ctx, state)
		}
	}
}

func (s *Service) handleSensor(_ context.Context, subject string, data []byte) {
	event, err := asset.DecodeAttributeEvent(data)
	if err != nil {
		s.metrics.recordRejected("decode_failure")
		s.logger.Warn("sensor event decode failed", "subject", subject, "error", err)
		return
	}
	_ = s.enqueue(event, true, protocolFromSubject(subject))
}

func (s *Service) handleClient(_ context.Context, data []byte) {
	event, err := asset.DecodeAttributeEvent(data)
	if err != nil {
		s.metrics.recordRejected("decode_failure")
		s.logger.Warn("client event decode failed", "error", err)
		return
	}
	_ = s.enqueue(event, false, "client")
}

func (s *Service) consumerNames() []string {
	names := make([]string, len(s.dispatcher.consumers))
	for i, c := range s.dispatcher.consumers {
		names[i] = c.Name()
	}
	return names
}

// protocolFromSubject extracts the protocol name from a sensor subject.
func protocolFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
