// events.go keeps a per-key log of connection events (100 entries per key)
// and notifies registered listeners as events are emitted.

package sftpconn

import (
	"sync"
	"time"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// EventType names a connection event.
type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventConnectFailed  EventType = "connect_failed"
	EventHostKeyBlocked EventType = "host_key_blocked"
	EventReaped         EventType = "reaped"
	EventHostTrusted    EventType = "host_trusted"
)

// ConnectionEvent is one recorded event for a connection key.
type ConnectionEvent struct {
	Key       remote.Key `json:"key"`
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Details   string     `json:"details"`
}

// EventListener is called synchronously for every emitted event.
type EventListener func(ConnectionEvent)

const eventBufferSize = 100

type eventBuffer struct {
	events [eventBufferSize]ConnectionEvent
	head   int
	count  int
}

func (b *eventBuffer) record(ev ConnectionEvent) {
	b.events[b.head] = ev
	b.head = (b.head + 1) % eventBufferSize
	if b.count < eventBufferSize {
		b.count++
	}
}

func (b *eventBuffer) history() []ConnectionEvent {
	if b.count == 0 {
		return nil
	}
	out := make([]ConnectionEvent, b.count)
	if b.count < eventBufferSize {
		copy(out, b.events[:b.count])
	} else {
		n := copy(out, b.events[b.head:])
		copy(out[n:], b.events[:b.head])
	}
	return out
}

type eventLog struct {
	mu        sync.RWMutex
	buffers   map[remote.Key]*eventBuffer
	listeners []EventListener
}

func newEventLog() *eventLog {
	return &eventLog{buffers: make(map[remote.Key]*eventBuffer)}
}

func (el *eventLog) emit(ev ConnectionEvent) {
	el.mu.Lock()
	buf, ok := el.buffers[ev.Key]
	if !ok {
		buf = &eventBuffer{}
		el.buffers[ev.Key] = buf
	}
	buf.record(ev)
	listeners := make([]EventListener, len(el.listeners))
	copy(listeners, el.listeners)
	el.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (el *eventLog) history(key remote.Key) []ConnectionEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if buf, ok := el.buffers[key]; ok {
		return buf.history()
	}
	return nil
}

// OnEvent registers a listener for connection events.
func (m *Manager) OnEvent(l EventListener) {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	m.events.listeners = append(m.events.listeners, l)
}

// EventHistory returns the recorded events for key, oldest first.
func (m *Manager) EventHistory(key remote.Key) []ConnectionEvent {
	return m.events.history(key)
}

func (m *Manager) emit(key remote.Key, typ EventType, details string) {
	m.events.emit(ConnectionEvent{Key: key, Type: typ, Timestamp: m.now(), Details: details})
}
