// util/eventstream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/mmp/enroute/log"
)

// backlogWarning is the number of unconsumed events after which the
// stream logs the subscribers that are behind.
const backlogWarning = 1000

// EventStream is a pub/sub queue of Events. Downloads, the data manager,
// the waypoint library and the flight route post to it; the command line
// front end drains a subscription to report errors and status changes.
// Each subscription sees the events posted after it was created, in
// order.
type EventStream struct {
	mu     sync.Mutex
	events []Event

	// first is the sequence number of events[0].
	first     int
	subs      map[*EventsSubscription]struct{}
	destroyed bool
	warned    bool
	lg        *log.Logger
}

type EventsSubscription struct {
	stream *EventStream

	// next is the sequence number of the next event Get returns.
	next   int
	source string
}

func (s *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(slog.String("source", s.source), slog.Int("next", s.next))
}

func NewEventStream(lg *log.Logger) *EventStream {
	return &EventStream{
		subs: make(map[*EventsSubscription]struct{}),
		lg:   lg,
	}
}

// Subscribe returns a new subscription; the subscriber's call site is
// recorded to identify it in the log.
func (e *EventStream) Subscribe() *EventsSubscription {
	_, file, line, _ := runtime.Caller(1)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream: e,
		next:   e.first + len(e.events),
		source: fmt.Sprintf("%s:%d", file, line),
	}
	if !e.destroyed {
		e.subs[sub] = struct{}{}
	}
	return sub
}

func (s *EventsSubscription) Unsubscribe() {
	e := s.stream
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[s]; !ok {
		e.lg.Debug("unsubscribing inactive subscription", slog.Any("subscription", s))
		return
	}
	delete(e.subs, s)
	e.compact()
}

// Post appends event to the stream and sets its time if it is unset.
// Events posted to a nil or destroyed stream, or to one without
// subscribers, are dropped.
func (e *EventStream) Post(event Event) {
	if e == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))
	if e.destroyed || len(e.subs) == 0 {
		return
	}
	e.events = append(e.events, event)

	if len(e.events) > backlogWarning && !e.warned {
		var behind []string
		for sub := range e.subs {
			if sub.next == e.first {
				behind = append(behind, sub.source)
			}
		}
		e.lg.Warn("event backlog", slog.Int("length", len(e.events)), slog.Any("subscribers", behind))
		e.warned = true
	}
}

// Get returns the events posted since the previous call.
func (s *EventsSubscription) Get() []Event {
	e := s.stream
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[s]; !ok {
		return nil
	}

	events := slices.Clone(e.events[s.next-e.first:])
	s.next = e.first + len(e.events)
	e.compact()
	return events
}

// Destroy drops all subscriptions and pending events.
func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.destroyed = true
	clear(e.subs)
	e.first += len(e.events)
	e.events = nil
}

// compact drops the events that every subscriber has seen once they make
// up at least half of the queue.
func (e *EventStream) compact() {
	oldest := e.first + len(e.events)
	for sub := range e.subs {
		oldest = min(oldest, sub.next)
	}

	n := oldest - e.first
	if n == 0 || n < len(e.events)/2 {
		return
	}
	e.events = slices.Clone(e.events[n:])
	e.first = oldest
	if len(e.events) <= backlogWarning {
		e.warned = false
	}
}

func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sources []string
	for sub := range e.subs {
		sources = append(sources, sub.source)
	}
	slices.Sort(sources)
	return slog.GroupValue(
		slog.Int("pending", len(e.events)),
		slog.Int("posted", e.first+len(e.events)),
		slog.Any("subscribers", sources))
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	DownloadErrorEvent EventType = iota
	DownloadFinishedEvent
	DownloadCanceledEvent
	FileDeletedEvent
	UpdatesAvailableEvent
	MapsIndexUpdatedEvent
	WaypointLibraryRebuiltEvent
	RouteChangedEvent
	StatusMessageEvent
	NumEventTypes
)

func (t EventType) String() string {
	return []string{"DownloadError", "DownloadFinished", "DownloadCanceled", "FileDeleted",
		"UpdatesAvailable", "MapsIndexUpdated", "WaypointLibraryRebuilt", "RouteChanged",
		"StatusMessage"}[t]
}

type Event struct {
	Type    EventType
	Source  string // object name of the component that posted the event
	Message string
	Time    time.Time
}

func (e Event) String() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Source)
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Source, e.Message)
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String())}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	return slog.GroupValue(attrs...)
}
