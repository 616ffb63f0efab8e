package broker

import "fmt"

// EventKind enumerates the connection lifecycle notifications of a Client.
type EventKind int

const (
	ConnectSucceeded EventKind = iota + 1
	ConnectFailed
	Interrupted
	Resumed
	Closed
)

func (k EventKind) String() string {
	switch k {
	case ConnectSucceeded:
		return "connect_succeeded"
	case ConnectFailed:
		return "connect_failed"
	case Interrupted:
		return "interrupted"
	case Resumed:
		return "resumed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a single lifecycle notification. SessionPresent is meaningful for
// ConnectSucceeded and Resumed, Err for ConnectFailed and Interrupted.
type Event struct {
	Kind           EventKind
	SessionPresent bool
	Err            error
}
