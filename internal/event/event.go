// Package event contains the event names used by Crate's silo'd
// services to communicate, alongside the bus used to dispatch and
// handle them.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Event")

// Each service listens for the events which indicate an item is
// ready for processing by that service. Payloads are the UUID of
// the row/item the event concerns.
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		mutex        sync.Mutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	CollectionSubmittedEvent Event = "collection:submitted"
	CollectionUpdateEvent    Event = "collection:update"
	CollectionCompleteEvent  Event = "collection:complete"

	IngestUpdateEvent   Event = "ingest:update"
	IngestCompleteEvent Event = "ingest:complete"

	NewSampleEvent    Event = "sample:new"
	SampleUpdateEvent Event = "sample:update"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send
// Event messages on the channel any time a Dispatch for the provided event
// occurs. This method can be used multiple times for different events on
// the same channel.
//
// If the channel is BLOCKED when the event bus attempts to send the message
// on the handler channel, then the thread dispatching the event will also be
// BLOCKED. It is recommended to buffer the handler channels appropriately
// to avoid dispatcher-side blocking.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction takes an event type and a handler method which
// will be stored and called with the payload for the event whenever it is
// dispatched. The handle provided should be guaranteed to return quickly,
// else other threads calling Dispatch on this event bus will be blocked.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction accepts an Event and a HandlerMethod which
// will be stored and called inside of a goroutine when the event is handled.
// The speed at which this handle runs is not important to the event bus,
// unlike RegisterHandlerFunction.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch takes an event type and a payload and dispatches the payload to
// the handlers registered for the event type provided.
// Note that this method WILL block if a synchronous handler function is
// blocking, or if channel handlers are blocked.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := handler.validatePayload(event, payload); err != nil {
		log.Emit(logger.FATAL, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	handler.mutex.Lock()
	fnHandles := handler.fnHandlers[event]
	chanHandles := handler.chanHandlers[event]
	handler.mutex.Unlock()

	for _, handle := range fnHandles {
		if handle.async {
			go handle.handle(event, payload)
		} else {
			handle.handle(event, payload)
		}
	}

	if len(chanHandles) > 0 {
		message := HandlerEvent{event, payload}
		for _, handle := range chanHandles {
			handle <- message
		}
	}
}

// validatePayload ensures that the payload provided is valid for the event
// specified. An error will be returned if the payload is not valid, and the
// event should not be sent to the registered handlers in this case.
func (handler *eventHandler) validatePayload(event Event, payload Payload) error {
	var payloadTypeName string
	if t := reflect.TypeOf(payload); t != nil {
		payloadTypeName = t.Name()
	} else {
		payloadTypeName = "Nil"
	}

	switch event {
	case CollectionSubmittedEvent,
		CollectionUpdateEvent,
		CollectionCompleteEvent,
		IngestUpdateEvent,
		IngestCompleteEvent,
		NewSampleEvent,
		SampleUpdateEvent:
		if _, ok := payload.(uuid.UUID); !ok {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected uuid.UUID payload", payloadTypeName, event)
		}

		return nil
	}

	return errors.New("event type not recognized for validation")
}
