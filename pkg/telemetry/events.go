package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle event of the orchestration service.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	RunID       string                 `json:"run_id,omitempty"`
	EquipmentID string                 `json:"equipment_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted            = "run.started"
	EventTypeRunCompleted          = "run.completed"
	EventTypeRunFailed             = "run.failed"
	EventTypeRunSuperseded         = "run.superseded"
	EventTypeActionCompleted       = "action.completed"
	EventTypeActionFailed          = "action.failed"
	EventTypeEventDuplicate        = "ingress.duplicate"
	EventTypeEventRedelivered      = "ingress.redelivered"
	EventTypeIndexCleared          = "ingress.index_cleared"
	EventTypeRecommendationCreated = "recommendation.created"
	EventTypeRecommendationChanged = "recommendation.status_changed"
	EventTypeReservationReleased   = "reservation.released"
	EventTypeNotificationSent      = "notification.sent"
	EventTypeCompensationFailed    = "compensation.failed"
	EventTypePolicyReloaded        = "policy.reloaded"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// buffered and delivered in order by a single goroutine; a full buffer drops
// the event rather than block the publisher.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishRun publishes a run lifecycle event.
func (ep *EventPublisher) PublishRun(eventType, runID, equipmentID, message string, data map[string]interface{}) error {
	level := EventLevelInfo
	switch eventType {
	case EventTypeRunFailed:
		level = EventLevelError
	case EventTypeRunSuperseded:
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:        eventType,
		Source:      "engine",
		RunID:       runID,
		EquipmentID: equipmentID,
		Message:     message,
		Level:       level,
		Data:        data,
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliverEvent(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Drain what is already queued, up to a batch.
		drain:
			for len(batch) < ep.config.MaxBatchSize {
				select {
				case e := <-ep.buffer:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case e := <-ep.buffer:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops delivery.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByEquipment only allows events about one piece of equipment.
func FilterByEquipment(equipmentID string) EventFilter {
	return func(event Event) bool {
		return event.EquipmentID == equipmentID
	}
}
