package exchange

import "fmt"

// Direction tells inbound exchanges (requests being served) from outbound
// ones (fetches being issued).
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// State is the lifecycle position of an exchange.
type State uint8

const (
	// Inbound states.
	HeadPending State = iota
	BodyStreaming
	HeadOnly
	HandlerRunning
	ResponseStarted
	ResponseStreaming
	ResponseComplete

	// Outbound states.
	Requested
	HeadersAwaited
	StreamingResponse
	BufferedResponse

	// Terminal states shared by both directions.
	Closed
	Errored
)

var stateNames = [...]string{
	HeadPending:       "head-pending",
	BodyStreaming:     "body-streaming",
	HeadOnly:          "head-only",
	HandlerRunning:    "handler-running",
	ResponseStarted:   "response-started",
	ResponseStreaming: "response-streaming",
	ResponseComplete:  "response-complete",
	Requested:         "requested",
	HeadersAwaited:    "headers-awaited",
	StreamingResponse: "streaming-response",
	BufferedResponse:  "buffered-response",
	Closed:            "closed",
	Errored:           "errored",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == ResponseComplete || s == Closed || s == Errored
}

// Key identifies a live exchange. Inbound and outbound IDs are separate
// namespaces.
type Key struct {
	ID        uint64
	Direction Direction
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Direction, k.ID)
}

// EventType classifies table notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventStateChanged
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventStateChanged:
		return "state"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification.
type Event struct {
	Label string
	Key   Key
	Type  EventType
	State State
}

// Observer receives lifecycle notifications. OnExchangeEvent may be called
// from several goroutines at once.
type Observer interface {
	OnExchangeEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnExchangeEvent(e Event) { f(e) }

// Dropper is implemented by record payloads that hold resources to release
// when the record leaves the table.
type Dropper interface {
	Drop()
}
