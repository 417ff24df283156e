// Package events carries structured diagnostics out of the sync core.
//
// The core never logs directly. It emits Events through a Sink handed to it at
// construction time, which keeps it testable without capturing log output.
package events

import (
	"sync"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

// Level is the severity of an Event.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Fields are the structured attributes attached to an Event.
type Fields map[string]interface{}

// Event is one diagnostic emitted by the core.
type Event struct {
	Level   Level
	Message string
	Fields  Fields
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Debug, Info, Warn and Error are shorthands for emitting to a sink.
func Debug(s Sink, msg string, fields Fields) { emit(s, LevelDebug, msg, fields) }
func Info(s Sink, msg string, fields Fields)  { emit(s, LevelInfo, msg, fields) }
func Warn(s Sink, msg string, fields Fields)  { emit(s, LevelWarn, msg, fields) }
func Error(s Sink, msg string, fields Fields) { emit(s, LevelError, msg, fields) }

func emit(s Sink, level Level, msg string, fields Fields) {
	if s == nil {
		return
	}
	s.Emit(Event{Level: level, Message: msg, Fields: fields})
}

// LogSink forwards events to a logger.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a sink writing to log, or to the global logger when log is nil.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Get()
	}
	return &LogSink{log: log}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	fields := map[string]interface{}(e.Fields)
	switch e.Level {
	case LevelDebug:
		s.log.Debug(e.Message, fields)
	case LevelInfo:
		s.log.Info(e.Message, fields)
	case LevelWarn:
		s.log.Warn(e.Message, fields)
	default:
		s.log.Error(e.Message, fields)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Find returns the recorded events with the given message.
func (r *Recorder) Find(msg string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether an event with msg and level was recorded.
func (r *Recorder) Has(level Level, msg string) bool {
	for _, e := range r.Find(msg) {
		if e.Level == level {
			return true
		}
	}
	return false
}
