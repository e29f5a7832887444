package feed

import (
	"time"

	drepo "LiveTicks/internal/domain/repository"
)

// Every event is stamped with the session generation it belongs to. Events
// from a superseded session are discarded by dispatch.
type event interface {
	generation() uint64
}

type session uint64

func (s session) generation() uint64 { return uint64(s) }

type (
	openedEvent struct {
		session
		conn drepo.Conn
	}
	frameEvent struct {
		session
		data []byte
	}
	errorEvent struct {
		session
		err error
	}
	closedEvent struct {
		session
		err error
	}
	// writeFailedEvent returns an unsent message to the manager.
	writeFailedEvent struct {
		session
		msg  []byte
		ping bool
		err  error
	}
	heartbeatEvent struct{ session }
	flushEvent     struct{ session }
	retryEvent     struct{ session }
)

// Timer is the subset of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
