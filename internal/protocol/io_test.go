package protocol

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory net.Conn with deadline support, letting the
// read-discipline tests control exactly which bytes are buffered "on the
// connection" at call time.
type fakeConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	deadline time.Time
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (c *fakeConn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.buf.Len() > 0 {
			n, _ := c.buf.Read(p)
			c.mu.Unlock()
			return n, nil
		}
		d := c.deadline
		c.mu.Unlock()
		if !d.IsZero() && !time.Now().Before(d) {
			return 0, timeoutError{}
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func (c *fakeConn) feed(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Write(p []byte) (int, error)      { return len(p), nil }
func (c *fakeConn) Close() error                     { return nil }
func (c *fakeConn) LocalAddr() net.Addr              { return nil }
func (c *fakeConn) RemoteAddr() net.Addr             { return nil }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func packet(fill byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestReadExactlyBuffered(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	conn.feed(packet(0xAA, 10))

	buf := make([]byte, 10)
	if err := ReadExactly(context.Background(), conn, buf); err != nil {
		t.Fatalf("ReadExactly: %v", err)
	}
	if !bytes.Equal(buf, packet(0xAA, 10)) {
		t.Errorf("buf = %x", buf)
	}
}

func TestReadExactlyPartialArrival(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	conn.feed(packet(0x01, 3))
	go func() {
		time.Sleep(5 * time.Millisecond)
		conn.feed(packet(0x01, 7))
	}()

	buf := make([]byte, 10)
	if err := ReadExactly(context.Background(), conn, buf); err != nil {
		t.Fatalf("ReadExactly: %v", err)
	}
	if !bytes.Equal(buf, packet(0x01, 10)) {
		t.Errorf("buf = %x", buf)
	}
}

func TestReadExactlyCancelled(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := ReadExactly(ctx, conn, make([]byte, 4))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReadLatestKeepsNewest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		packets int
	}{
		{"single packet", 1},
		{"two buffered", 2},
		{"five buffered", 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := &fakeConn{}
			for i := 0; i < tt.packets; i++ {
				conn.feed(packet(byte(i+1), 8))
			}

			buf := make([]byte, 8)
			if err := ReadLatest(context.Background(), conn, buf); err != nil {
				t.Fatalf("ReadLatest: %v", err)
			}
			want := packet(byte(tt.packets), 8)
			if !bytes.Equal(buf, want) {
				t.Errorf("buf = %x, want %x (earlier packets must be discarded)", buf, want)
			}
			conn.mu.Lock()
			left := conn.buf.Len()
			conn.mu.Unlock()
			if left != 0 {
				t.Errorf("%d bytes left unread", left)
			}
		})
	}
}

func TestReadLatestFinishesPartialTail(t *testing.T) {
	t.Parallel()
	// One complete packet plus the start of a second: read-latest commits
	// to the newer packet and blocks until its remainder arrives.
	conn := &fakeConn{}
	conn.feed(packet(0x01, 8))
	conn.feed(packet(0x02, 3))
	go func() {
		time.Sleep(5 * time.Millisecond)
		conn.feed(packet(0x02, 5))
	}()

	buf := make([]byte, 8)
	if err := ReadLatest(context.Background(), conn, buf); err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if !bytes.Equal(buf, packet(0x02, 8)) {
		t.Errorf("buf = %x, want all 0x02", buf)
	}
}

func TestAcceptTimeoutCancelled(t *testing.T) {
	t.Parallel()
	ln := listenUnix(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := AcceptTimeout(ctx, ln)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("accept took %v after cancellation", elapsed)
	}
}

func TestAcceptTimeoutConnects(t *testing.T) {
	t.Parallel()
	ln := listenUnix(t)
	addr := ln.Addr().String()

	go func() {
		time.Sleep(10 * time.Millisecond)
		conn, err := net.Dial("unix", addr)
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := AcceptTimeout(context.Background(), ln)
	if err != nil {
		t.Fatalf("AcceptTimeout: %v", err)
	}
	conn.Close()
}

func listenUnix(t *testing.T) *net.UnixListener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}
