package engine

import (
	"time"
)

// EventType names an engine notification.
type EventType string

const (
	// EventTarget carries a QueryResult whenever the observed target changes.
	EventTarget EventType = "target"
	// EventFocusScope carries the FocusScope after a foreground change.
	EventFocusScope EventType = "focus_scope"
	// EventTopmost carries the always-on-top policy input when it flips.
	EventTopmost EventType = "topmost"
	// EventWindows is published when a managed window is added or removed.
	EventWindows EventType = "windows"
	// EventOverlay carries the primary overlay visibility toggle.
	EventOverlay EventType = "overlay"
	// EventConfig is published after an external config edit was applied.
	EventConfig EventType = "config"
	// EventExit is published once when the target exits.
	EventExit EventType = "exit"
)

// FocusScope classifies the foreground window.
type FocusScope string

const (
	ScopeTarget     FocusScope = "target"
	ScopeOverlay    FocusScope = "overlay"
	ScopeThirdParty FocusScope = "third_party"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

const listenerBuffer = 32

// Subscribe adds a listener for engine events
func (e *Engine) Subscribe() chan Event {
	ch := make(chan Event, listenerBuffer)
	e.mu.Lock()
	e.listeners = append(e.listeners, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (e *Engine) Unsubscribe(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, listener := range e.listeners {
		if listener == ch {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// publish notifies all listeners without blocking the loop
func (e *Engine) publish(typ EventType, data interface{}) {
	ev := Event{Type: typ, Data: data, Time: e.now()}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, listener := range e.listeners {
		select {
		case listener <- ev:
		default:
			// Skip if channel is full
		}
	}
}
