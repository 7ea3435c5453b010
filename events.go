package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventEmission is the object sequentially handed to each listener for
// one emit() call (§4.4). Shape grounded on
// other_examples/.../internal-events-bus.go's nil-safe Event struct
// (Source/Kind/Data/Timestamp), generalized from "Kind string" to a
// kernel event id (EventID) plus a per-emission ID.
type EventEmission struct {
	ID        string
	EventID   string
	Data      any
	Source    string
	Timestamp time.Time
}

// listenerFunc is a normalized hook/task-as-listener body.
type listenerFunc func(ctx context.Context, emission *EventEmission) error

type registeredListener struct {
	ownerID string
	on      string // event id or "*"
	order   int
	seq     int
	fn      listenerFunc
}

// EventManager is the kernel's typed pub/sub core (§4.4): ordered
// listeners, wildcard dispatch excluding system-tagged events, an
// optional reentrancy cycle guard, and a lock raised after boot.
// Sequential-dispatch shape grounded on observability.go's
// compositeObserver chain.
type EventManager struct {
	mu             sync.Mutex
	listeners      map[string][]*registeredListener
	wildcard       []*registeredListener
	seq            int
	locked         bool
	cycleDetection bool
	logger         Logger

	// isSystemEvent reports whether eventID carries the system tag;
	// wired by the facade from the store's registered event
	// definitions so wildcard hooks can exclude them (§4.4, §4.13).
	isSystemEvent func(eventID string) bool

	onUnhandled func(ctx context.Context, payload UnhandledErrorPayload)

	// tunnel routes eventID through any matching TunnelRunner's
	// delivery mode before/after/around local dispatch; nil when the
	// app registers no tunneled resources.
	tunnel *TunnelRouter
}

// SetTunnel wires the boot-time tunnel router into the manager; called
// once by the facade before the manager is locked.
func (m *EventManager) SetTunnel(tunnel *TunnelRouter) {
	m.tunnel = tunnel
}

// NewEventManager constructs an empty manager.
func NewEventManager(cycleDetection bool, logger Logger) *EventManager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventManager{
		listeners:      make(map[string][]*registeredListener),
		cycleDetection: cycleDetection,
		logger:         logger,
		isSystemEvent:  func(string) bool { return false },
	}
}

// Subscribe registers fn against eventID ("*" for wildcard), returning
// an error if the manager is locked.
func (m *EventManager) Subscribe(ownerID, eventID string, order int, fn listenerFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return LockedError("event manager")
	}
	m.seq++
	l := &registeredListener{ownerID: ownerID, on: eventID, order: order, seq: m.seq, fn: fn}
	if eventID == "*" {
		m.wildcard = append(m.wildcard, l)
		sortListeners(m.wildcard)
		return nil
	}
	m.listeners[eventID] = append(m.listeners[eventID], l)
	sortListeners(m.listeners[eventID])
	return nil
}

// Unsubscribe removes every listener owned by ownerID.
func (m *EventManager) Unsubscribe(ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return LockedError("event manager")
	}
	filterOut := func(list []*registeredListener) []*registeredListener {
		out := list[:0:0]
		for _, l := range list {
			if l.ownerID != ownerID {
				out = append(out, l)
			}
		}
		return out
	}
	m.wildcard = filterOut(m.wildcard)
	for id, list := range m.listeners {
		m.listeners[id] = filterOut(list)
	}
	return nil
}

func sortListeners(list []*registeredListener) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].order != list[j].order {
			return list[i].order < list[j].order
		}
		return list[i].seq < list[j].seq
	})
}

// Lock prevents further subscription changes (§4.4, called at end of
// boot per §4.11 step 7).
func (m *EventManager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
}

type eventPathKey struct{}

// Emit constructs an EventEmission and invokes listeners sequentially
// in (order, registration) order, then wildcard listeners (unless the
// event is system-tagged). A listener failure is caught and either
// re-emitted on UnhandledErrorEvent or logged+swallowed (§4.4, §7).
func (m *EventManager) Emit(ctx context.Context, eventID string, data any, source string) error {
	if m.cycleDetection {
		path, _ := ctx.Value(eventPathKey{}).([]string)
		for _, id := range path {
			if id == eventID {
				return newKernelError(ErrRuntime, "event cycle detected: %s -> %s", joinPath(path), eventID)
			}
		}
		ctx = context.WithValue(ctx, eventPathKey{}, append(append([]string{}, path...), eventID))
	}

	m.mu.Lock()
	specific := append([]*registeredListener{}, m.listeners[eventID]...)
	wildcard := append([]*registeredListener{}, m.wildcard...)
	isSystem := m.isSystemEvent(eventID)
	m.mu.Unlock()

	emission := &EventEmission{ID: fmt.Sprintf("%s-%d", eventID, time.Now().UnixNano()), EventID: eventID, Data: data, Source: source, Timestamp: time.Now()}

	dispatchLocal := func() error {
		for _, l := range specific {
			m.invoke(ctx, l, emission, eventID)
		}
		if !isSystem {
			for _, l := range wildcard {
				m.invoke(ctx, l, emission, eventID)
			}
		}
		return nil
	}

	if m.tunnel != nil {
		return m.tunnel.RouteEvent(ctx, eventID, data, dispatchLocal)
	}
	return dispatchLocal()
}

func (m *EventManager) invoke(ctx context.Context, l *registeredListener, emission *EventEmission, eventID string) {
	defer func() {
		if r := recover(); r != nil {
			m.handleFailure(ctx, eventID, l.ownerID, fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := l.fn(ctx, emission); err != nil {
		m.handleFailure(ctx, eventID, l.ownerID, err)
	}
}

func (m *EventManager) handleFailure(ctx context.Context, eventID, ownerID string, err error) {
	wrapped := wrapKernelError(ErrRuntime, err, "listener %q for event %q failed", ownerID, eventID)
	if m.onUnhandled != nil && eventID != UnhandledErrorEvent.ID() {
		m.onUnhandled(ctx, UnhandledErrorPayload{Error: wrapped, Source: ownerID})
		return
	}
	m.logger.Error("unhandled listener error", "event", eventID, "owner", ownerID, "err", wrapped.Error())
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}
