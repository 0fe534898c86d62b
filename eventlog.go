/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// Sessions keep this many log entries before evicting the oldest.
const eventLogCapacity = 30

// EventLog is a bounded, order-preserving record of human-readable session
// events, kept for audit and UI replay. Appending beyond capacity evicts
// the oldest entry first.
type EventLog struct {
	entries  []string
	capacity int
	onAppend func(string)
}

// newEventLog builds a log with the given capacity. onAppend, when set, is
// invoked after every successful append so the presentation layer can
// refresh its view.
func newEventLog(capacity int, onAppend func(string)) *EventLog {
	if capacity <= 0 {
		capacity = eventLogCapacity
	}

	return &EventLog{
		capacity: capacity,
		onAppend: onAppend,
	}
}

func (l *EventLog) Append(text string) {
	if len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, text)

	if l.onAppend != nil {
		l.onAppend(text)
	}
}

// Snapshot returns the logged entries, oldest first.
func (l *EventLog) Snapshot() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *EventLog) Len() int {
	return len(l.entries)
}

func (l *EventLog) Clear() {
	l.entries = nil
}
