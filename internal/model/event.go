package model

import (
	"strconv"
	"time"
)

type EventKind string

const (
	KindProgress EventKind = "progress"
	KindWaiting  EventKind = "waiting"
	KindLog      EventKind = "log"
	KindError    EventKind = "error"
	KindTerminal EventKind = "terminal"
)

// Event is a single entry of a job history. Kind selects which of the
// remaining fields are meaningful:
//
//	progress: Current, Total, Percent, Message (the whole line)
//	waiting:  Seconds
//	log:      Message
//	error:    Message
//	terminal: Outcome, Detail
//
// Seq and Time are assigned by the job when the event enters its history.
type Event struct {
	Seq  int       `json:"seq"`
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Message string `json:"message,omitempty"`

	Outcome State  `json:"outcome,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func Progress(current, total, percent int, message string) Event {
	return Event{Kind: KindProgress, Current: current, Total: total, Percent: percent, Message: message}
}

func Waiting(seconds int) Event {
	return Event{Kind: KindWaiting, Seconds: seconds}
}

func Log(text string) Event {
	return Event{Kind: KindLog, Message: text}
}

func Error(message string) Event {
	return Event{Kind: KindError, Message: message}
}

// Terminal builds the final event of a job. outcome must be a terminal State.
func Terminal(outcome State, detail string) Event {
	if !outcome.Terminal() {
		panic("model: non terminal outcome " + strconv.Quote(string(outcome)))
	}
	return Event{Kind: KindTerminal, Outcome: outcome, Detail: detail}
}

func (e Event) IsTerminal() bool {
	return e.Kind == KindTerminal
}
