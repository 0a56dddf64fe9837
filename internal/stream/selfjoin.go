package stream

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
)

// Handler is the per-instance state machine a starter spawns. Its first
// Handle call always receives the event the starter matched.
type Handler interface {
	// Handle consumes one event. A nil result means the event was consumed
	// and the handler stays active. A non-nil result deactivates the
	// handler (resolution) or asks for the event to be held aside
	// (Buffer true, handler stays active).
	Handle(e models.Event) (*Result, error)
	// Completed is called while the handler is still active at end of
	// stream, or when a wrapper forces completion. A handler that cannot
	// produce a clean result here must return an error; groups are never
	// silently dropped.
	Completed() ([]models.Event, error)
}

// Result is a handler's non-consuming response to an event.
type Result struct {
	// Emit is the resolved group, sent straight downstream in order.
	Emit []models.Event
	// Requeue holds events the handler did not claim; they are
	// re-dispatched against the starters so one of them can seed a fresh
	// group. A handler must never requeue an event that would re-activate
	// it in the same state.
	Requeue []models.Event
	// Buffer asks the buffering wrapper to hold the event and keep going.
	Buffer bool
}

// EmitResult resolves a group.
func EmitResult(events ...models.Event) *Result {
	return &Result{Emit: events}
}

// BufferResult holds the event aside.
func BufferResult() *Result {
	return &Result{Buffer: true}
}

// Starter inspects an event and returns a new handler when the event opens
// a group, or nil when it is not interested.
type Starter func(e models.Event) Handler

type selfJoin struct {
	starters []Starter
	active   Handler
}

// SelfJoin builds the generic join stage: while no handler is active each
// event is offered to the starters in order; the first taker becomes active
// and consumes the event. While a handler is active every event is routed to
// it. Events no starter claims pass through unchanged.
func SelfJoin(starters ...Starter) Stage {
	return &selfJoin{starters: starters}
}

func (s *selfJoin) Next(e models.Event) ([]models.Event, error) {
	return s.dispatch(e)
}

func (s *selfJoin) dispatch(e models.Event) ([]models.Event, error) {
	if s.active != nil {
		res, err := s.active.Handle(e)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}
		if res.Buffer {
			return nil, fmt.Errorf("%w: handler buffered an event without a buffering wrapper", ErrIllegalState)
		}
		s.active = nil
		return s.resolve(res)
	}

	for _, starter := range s.starters {
		h := starter(e)
		if h == nil {
			continue
		}
		s.active = h
		res, err := h.Handle(e)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}
		if res.Buffer {
			return nil, fmt.Errorf("%w: handler buffered its own starter event", ErrIllegalState)
		}
		s.active = nil
		return s.resolve(res)
	}

	return []models.Event{e}, nil
}

func (s *selfJoin) resolve(res *Result) ([]models.Event, error) {
	out := append([]models.Event(nil), res.Emit...)
	for _, ev := range res.Requeue {
		emitted, err := s.dispatch(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, emitted...)
	}
	return out, nil
}

func (s *selfJoin) Flush() ([]models.Event, error) {
	if s.active == nil {
		return nil, nil
	}
	h := s.active
	s.active = nil
	return h.Completed()
}

// EventBufferLimit bounds how many events a buffering wrapper will hold for
// one group before forcing completion; it protects against pathological
// inputs where the closing record never shows up.
const EventBufferLimit = 100

type bufferedHandler struct {
	inner  Handler
	limit  int
	buffer []models.Event
}

// WithEventBuffer wraps a handler so BufferResult responses are honored:
// held events are requeued behind the group's own leftovers once it
// resolves, so they get their own shot at the starters. Past limit held
// events the inner handler is force-completed and everything flushes.
func WithEventBuffer(inner Handler, limit int) Handler {
	return &bufferedHandler{inner: inner, limit: limit}
}

func (h *bufferedHandler) Handle(e models.Event) (*Result, error) {
	res, err := h.inner.Handle(e)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if res.Buffer {
		h.buffer = append(h.buffer, e)
		if len(h.buffer) > h.limit {
			forced, err := h.inner.Completed()
			if err != nil {
				return nil, err
			}
			return &Result{Emit: forced, Requeue: h.takeBuffer()}, nil
		}
		return nil, nil
	}
	return &Result{
		Emit:    res.Emit,
		Requeue: append(res.Requeue, h.takeBuffer()...),
	}, nil
}

func (h *bufferedHandler) Completed() ([]models.Event, error) {
	done, err := h.inner.Completed()
	if err != nil {
		return nil, err
	}
	return append(done, h.takeBuffer()...), nil
}

func (h *bufferedHandler) takeBuffer() []models.Event {
	buf := h.buffer
	h.buffer = nil
	return buf
}

type sameUploadHandler struct {
	inner    Handler
	uploadID string
	bound    bool
}

// WithSameUpload refuses to let a handler span upload boundaries: when an
// event's uploadId differs from the group's, the inner handler is
// force-completed and the new event is requeued to start fresh.
func WithSameUpload(inner Handler) Handler {
	return &sameUploadHandler{inner: inner}
}

func (h *sameUploadHandler) Handle(e models.Event) (*Result, error) {
	if h.bound && h.uploadID != e.UploadID {
		done, err := h.inner.Completed()
		if err != nil {
			return nil, err
		}
		return &Result{Emit: done, Requeue: []models.Event{e}}, nil
	}

	res, err := h.inner.Handle(e)
	if err != nil {
		return nil, err
	}
	if res == nil {
		// The inner handler consumed the event, so the group is bound to
		// this upload.
		h.uploadID = e.UploadID
		h.bound = true
	}
	return res, nil
}

func (h *sameUploadHandler) Completed() ([]models.Event, error) {
	return h.inner.Completed()
}

// WrapStarter applies the standard wrapper policies (same-upload scoping,
// bounded event buffering) to every handler a starter produces.
func WrapStarter(starter Starter) Starter {
	return func(e models.Event) Handler {
		h := starter(e)
		if h == nil {
			return nil
		}
		return WithEventBuffer(WithSameUpload(h), EventBufferLimit)
	}
}
