package monitor

import "fmt"

// Status is the lifecycle state of a monitor entry.
type Status int

const (
	// StatusEmpty marks a recyclable slot.
	StatusEmpty Status = iota
	// StatusIdle entries are watched for readiness.
	StatusIdle
	// StatusBusy entries have a handler or a response in flight.
	StatusBusy
	// StatusDying entries wait for their owner to tear them down.
	StatusDying
)

// String returns a human-readable name for the status
func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusDying:
		return "dying"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Kind tells the monitor how to dispatch readiness of an entry.
type Kind int

const (
	// KindAcceptor is a listening socket; readiness is delivered as a
	// message.SocketMessage to its queue.
	KindAcceptor Kind = iota
	// KindConnection is a peer socket; readiness runs its read handler.
	KindConnection
	// KindTickler is the monitor's own wake-up channel.
	KindTickler
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindAcceptor:
		return "acceptor"
	case KindConnection:
		return "connection"
	case KindTickler:
		return "tickler"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is one row of the readiness table.
type Entry struct {
	Fd      int
	QueueID uint32
	Status  Status
	Kind    Kind

	gen uint32
}

// Handle addresses an entry. It stops being valid once the entry is
// unsolicited, even if the slot is reused.
type Handle struct {
	Index int
	Gen   uint32
}

// Outcome is what a connection handler asks the monitor to do with its
// entry.
type Outcome int

const (
	// OutcomeIdle keeps the entry watched.
	OutcomeIdle Outcome = iota
	// OutcomeBusy stops watching until the connection sets it idle again.
	OutcomeBusy
	// OutcomeClose marks the entry dying.
	OutcomeClose
)
