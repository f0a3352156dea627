// Package indicator carries the beacon's symbolic status (idle, acquiring,
// fix found, ...) to whatever can show it: the log, an RGB LED on GPIO
// lines, an MQTT topic. Sinks never see hardware colors from callers.
package indicator

import (
	"log"
	"sync"
)

type State int

const (
	Idle State = iota
	Acquiring
	FixFound
	FixNotSent
	NoFix
	Joining
	Joined
)

var stateNames = [...]string{
	Idle:       "idle",
	Acquiring:  "acquiring",
	FixFound:   "fix_found",
	FixNotSent: "fix_not_sent",
	NoFix:      "no_fix",
	Joining:    "joining",
	Joined:     "joined",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Sink is a one-shot "show this state now" consumer. Implementations must be
// cheap; they are called on the cycle path.
type Sink interface {
	Set(State)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(State)

func (f SinkFunc) Set(s State) { f(s) }

// Multi fans a state out to every non-nil sink in order.
type Multi []Sink

func (m Multi) Set(s State) {
	for _, sink := range m {
		if sink != nil {
			sink.Set(s)
		}
	}
}

// LogSink logs state transitions, suppressing repeats.
type LogSink struct {
	mu   sync.Mutex
	last State
	seen bool
}

func (l *LogSink) Set(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen && l.last == s {
		return
	}
	l.last = s
	l.seen = true
	log.Printf("indicator: state=%s", s)
}

// Discard drops every state.
var Discard Sink = SinkFunc(func(State) {})
