package seqqueue

// EventType names a notification emitted by the executor.
type EventType string

const (
	// EventClosed fires synchronously inside a soft Close: no more pushes are accepted.
	EventClosed EventType = "closed"
	// EventDrained fires when a forced Close discards the queue.
	EventDrained EventType = "drained"
	// EventTimeout fires when an item's watchdog expires. Event.Item is set.
	EventTimeout EventType = "timeout"
	// EventError fires when a work function fails synchronously. Event.Item and Event.Err are set.
	EventError EventType = "error"
	// EventFinished fires once a soft-closed executor has run its last item.
	EventFinished EventType = "finished"
)

// Event is a single notification.
type Event struct {
	Type EventType
	Item *Item
	Err  error
}

// Handler receives events synchronously on the goroutine that emitted them.
type Handler func(event Event)

// On registers an event handler for a specific event type
func (e *Executor) On(eventType EventType, handler Handler) {
	if handler == nil {
		return
	}

	e.eventMu.Lock()
	defer e.eventMu.Unlock()

	e.eventHandlers[eventType] = append(e.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (e *Executor) Off(eventType EventType) {
	e.eventMu.Lock()
	defer e.eventMu.Unlock()

	delete(e.eventHandlers, eventType)
}

// Subscribe returns a channel receiving every event, and a function that ends the
// subscription and closes the channel. Events are dropped, with a warning logged, when
// the channel's buffer is full.
func (e *Executor) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	e.eventMu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.subscribers[id] = ch
	e.eventMu.Unlock()

	cancel := func() {
		e.eventMu.Lock()
		defer e.eventMu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// emit delivers an event to handlers first, then to channel subscribers.
func (e *Executor) emit(event Event) {
	e.eventMu.RLock()
	handlers := e.eventHandlers[event.Type]
	e.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}

	e.eventMu.RLock()
	defer e.eventMu.RUnlock()
	for id, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			e.logger.Warn().
				Int("subscriber", id).
				Str("event", string(event.Type)).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}
