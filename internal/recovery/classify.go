package recovery

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Class is the recovery class of an error.
type Class int

const (
	Persistent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "persistent"
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type temporary interface {
	Temporary() bool
}

// Classify sorts err into transient (network failures, timeouts, HTTP 5xx)
// or persistent (everything else).
func Classify(err error) Class {
	if err == nil {
		return Persistent
	}

	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		if statusErr.HTTPStatusCode() >= 500 {
			return Transient
		}
		return Persistent
	}

	// Cancellation comes from teardown or an id switch and is never shown.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return Transient
	}
	return Persistent
}
