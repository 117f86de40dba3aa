// Package transport carries result and notification events back to
// connected clients. The server core only depends on the Sender contract;
// the shipped implementation is an in-process loopback that doubles as the
// test double.
package transport

import "sync"

// Outbound is one queued client-bound event.
type Outbound struct {
	UserID  int64 // 0 = broadcast
	Event   string
	Payload map[string]any
}

// Sender delivers events to one client or to everyone on the shard.
type Sender interface {
	Send(userID int64, event string, payload map[string]any)
	Broadcast(event string, payload map[string]any)
}

// NopSender drops everything. Services hold it until the real sender is
// wired in.
type NopSender struct{}

func (NopSender) Send(int64, string, map[string]any) {}
func (NopSender) Broadcast(string, map[string]any) {}

// Loopback records everything it is asked to deliver. Handlers use it as
// the default sender; tests inspect the recorded stream.
type Loopback struct {
	mu     sync.Mutex
	events []Outbound
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Send(userID int64, event string, payload map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, Outbound{UserID: userID, Event: event, Payload: payload})
	l.mu.Unlock()
}

func (l *Loopback) Broadcast(event string, payload map[string]any) {
	l.Send(0, event, payload)
}

// Events returns a copy of the delivered stream.
func (l *Loopback) Events() []Outbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Outbound, len(l.events))
	copy(out, l.events)
	return out
}

// Last returns the most recent event sent to userID, or nil.
func (l *Loopback) Last(userID int64) *Outbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].UserID == userID {
			ev := l.events[i]
			return &ev
		}
	}
	return nil
}
