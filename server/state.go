package server

import "fmt"

type sessionState int32

const (
	stateIdle sessionState = iota
	stateReading
	stateDispatching
	stateWriting
	stateClosing
	stateClosed
)

func (st sessionState) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateDispatching:
		return "dispatching"
	case stateWriting:
		return "writing"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(st))
}

// canMove reports whether the session may go from st to next.
func (st sessionState) canMove(next sessionState) bool {
	if next == stateClosed {
		// I/O errors end the session from anywhere
		return st != stateClosed
	}

	switch st {
	case stateIdle:
		return next == stateReading || next == stateClosing
	case stateReading:
		// malformed requests skip dispatch and are answered directly
		return next == stateDispatching || next == stateWriting || next == stateClosing
	case stateDispatching:
		return next == stateWriting
	case stateWriting:
		return next == stateIdle || next == stateClosing
	}
	return false
}
