package conversation

// Status is the externally observable state of a Machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusResponding Status = "responding"
)

// String returns the status name.
func (s Status) String() string { return string(s) }

// Busy reports whether a turn is recording or waiting on the backend.
func (s Status) Busy() bool {
	return s == StatusListening || s == StatusProcessing
}

// Event drives a status transition.
type Event int

const (
	// EventBegin starts a turn.
	EventBegin Event = iota
	// EventCaptured means the recording ended on silence or the cap.
	EventCaptured
	// EventNoSession means the microphone could not be opened.
	EventNoSession
	// EventEmpty means the transcript was blank.
	EventEmpty
	// EventFailed is any service or decode failure.
	EventFailed
	// EventReply means the chat reply arrived.
	EventReply
	// EventPlaybackEnded means the owning playback finished or failed.
	EventPlaybackEnded
	// EventStop is an explicit user stop.
	EventStop
	// EventInject is a pushed answer taking over the speaker.
	EventInject
)

var eventNames = [...]string{
	EventBegin:         "begin",
	EventCaptured:      "captured",
	EventNoSession:     "no_session",
	EventEmpty:         "empty",
	EventFailed:        "failed",
	EventReply:         "reply",
	EventPlaybackEnded: "playback_ended",
	EventStop:          "stop",
	EventInject:        "inject",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// transitions is the complete table. A missing entry is an illegal
// transition and leaves the status unchanged.
var transitions = map[Status]map[Event]Status{
	StatusIdle: {
		EventBegin:  StatusListening,
		EventInject: StatusResponding,
	},
	StatusListening: {
		EventCaptured:  StatusProcessing,
		EventNoSession: StatusIdle,
		EventEmpty:     StatusIdle,
		EventFailed:    StatusIdle,
		EventStop:      StatusIdle,
	},
	StatusProcessing: {
		EventEmpty:  StatusIdle,
		EventFailed: StatusIdle,
		EventReply:  StatusResponding,
		EventStop:   StatusIdle,
	},
	StatusResponding: {
		EventPlaybackEnded: StatusIdle,
		EventFailed:        StatusIdle,
		EventStop:          StatusIdle,
		EventInject:        StatusResponding,
	},
}

// Transition returns the status that follows from applying ev in from.
// ok is false when the event is not legal in that status.
func Transition(from Status, ev Event) (to Status, ok bool) {
	to, ok = transitions[from][ev]
	if !ok {
		return from, false
	}
	return to, true
}
