package httpstream

import "fmt"

// State is a step of the send side of a request.
type State int

const (
	StateIdle State = iota
	StateHandlingPromise
	StatePromiseResolved
	StateRequestingStream
	StateStreamAcquired
	StateSettingPriority
	StateSendingHeaders
	StateHeadersSent
	StateReadingBody
	StateBodyChunkRead
	StateSendingBody
	StateBodyChunkSent
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandlingPromise:
		return "HandlingPromise"
	case StatePromiseResolved:
		return "PromiseResolved"
	case StateRequestingStream:
		return "RequestingStream"
	case StateStreamAcquired:
		return "StreamAcquired"
	case StateSettingPriority:
		return "SettingPriority"
	case StateSendingHeaders:
		return "SendingHeaders"
	case StateHeadersSent:
		return "HeadersSent"
	case StateReadingBody:
		return "ReadingBody"
	case StateBodyChunkRead:
		return "BodyChunkRead"
	case StateSendingBody:
		return "SendingBody"
	case StateBodyChunkSent:
		return "BodyChunkSent"
	case StateOpen:
		return "Open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// consumesResult reports whether a state takes the result of the previous
// step as input. All other states are only entered after a success.
func (s State) consumesResult() bool {
	switch s {
	case StateStreamAcquired, StateHeadersSent, StateBodyChunkRead, StateBodyChunkSent:
		return true
	}
	return false
}
