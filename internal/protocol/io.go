package protocol

import (
	"context"
	"errors"
	"net"
	"time"
)

// Poll intervals for the bounded read and accept loops. Shutdown latency
// is bounded by these rather than by peer behavior.
const (
	readPoll   = time.Millisecond
	drainPoll  = 100 * time.Microsecond
	acceptPoll = 15 * time.Millisecond
)

// Listener is the subset of net.UnixListener that AcceptTimeout needs:
// accepting with a deadline so cancellation is observed between polls.
type Listener interface {
	Accept() (net.Conn, error)
	SetDeadline(t time.Time) error
}

// AcceptTimeout polls the listener on a bounded interval until a client
// connects or the context is cancelled. It never blocks indefinitely.
func AcceptTimeout(ctx context.Context, ln Listener) (net.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ln.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
			return nil, &Error{Op: "accept", Err: err}
		}
		conn, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, &Error{Op: "accept", Err: err}
		}
		return conn, nil
	}
}

// ReadExactly fills buf completely, polling the connection on a short
// bounded interval so cancellation is observed between reads. On
// cancellation it returns the context error with buf possibly partially
// filled.
func ReadExactly(ctx context.Context, conn net.Conn, buf []byte) error {
	off := 0
	for off < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return &Error{Op: "read", Err: err}
		}
		n, err := conn.Read(buf[off:])
		off += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return &Error{Op: "read", Err: err}
		}
	}
	return nil
}

// ReadLatest performs one ReadExactly for a full packet, then drains any
// further complete packets already buffered on the connection, keeping
// only the most recent. When the consumer falls behind this bounds the
// backlog to a single packet of readahead, silently discarding the
// intermediate frames.
func ReadLatest(ctx context.Context, conn net.Conn, buf []byte) error {
	if err := ReadExactly(ctx, conn, buf); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(drainPoll)); err != nil {
			return &Error{Op: "read", Err: err}
		}
		n, err := conn.Read(buf[:1])
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return &Error{Op: "read", Err: err}
		}
		if n == 0 {
			return nil
		}
		// A newer packet has started; commit to it and block until the
		// remainder arrives, overwriting the previous packet in place.
		if err := ReadExactly(ctx, conn, buf[1:]); err != nil {
			return err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
