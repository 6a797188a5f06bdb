package mailprobe

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// startServer listens on an ephemeral port and runs handler on the
// first accepted connection. The listener and connection are torn down
// with the test.
func startServer(t *testing.T, handler func(f *fakeConn)) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(&fakeConn{t: t, conn: conn, r: bufio.NewReader(conn)})
	}()

	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

// fakeConn is the server side of a scripted protocol session.
type fakeConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// line reads one client line with the terminator stripped. Returns ""
// once the client hangs up.
func (f *fakeConn) line() string {
	line, err := f.r.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

// expect reads one client line and fails the test unless it starts with
// prefix. The full line is returned for further inspection.
func (f *fakeConn) expect(prefix string) string {
	line := f.line()
	if !strings.HasPrefix(line, prefix) {
		f.t.Errorf("client sent %q, want prefix %q", line, prefix)
	}
	return line
}

// send writes server lines, each CRLF-terminated.
func (f *fakeConn) send(lines ...string) {
	for _, line := range lines {
		if _, err := io.WriteString(f.conn, line+"\r\n"); err != nil {
			return
		}
	}
}

func dialTest(t *testing.T, handler func(f *fakeConn)) *Conn {
	t.Helper()
	host, port := startServer(t, handler)
	c, err := DialConn("test", host, port)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestReadLineBuffering(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {
		// One write, three lines, mixed terminators. Bytes past the
		// first terminator must stay buffered.
		_, _ = io.WriteString(f.conn, "alpha\r\nbravo\ncharlie\r\n")
		f.line() // hold the connection open until the client is done
	})

	for _, want := range []string{"alpha", "bravo", "charlie"} {
		got, err := c.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %s", err)
		}
		if got != want {
			t.Errorf("ReadLine = %q, want %q", got, want)
		}
	}
	_ = c.WriteLine("done")
}

func TestReadLineClosed(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {
		f.send("only line")
	})

	if _, err := c.ReadLine(); err != nil {
		t.Fatalf("ReadLine: %s", err)
	}
	_, err := c.ReadLine()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadLine after close = %v, want ErrConnectionClosed", err)
	}
}

func TestReadUntil(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {
		f.send("* 1 EXISTS", "* 2 RECENT", "A0001 OK done")
		f.line()
	})

	lines, err := c.ReadUntil(func(line string) bool {
		return strings.HasPrefix(line, "A0001 ")
	})
	if err != nil {
		t.Fatalf("ReadUntil: %s", err)
	}
	if len(lines) != 3 {
		t.Fatalf("ReadUntil returned %d lines, want 3", len(lines))
	}
	if lines[2] != "A0001 OK done" {
		t.Errorf("final line = %q", lines[2])
	}
	_ = c.WriteLine("done")
}

func TestReadUntilClosed(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {
		f.send("* 1 EXISTS")
	})

	lines, err := c.ReadUntil(func(line string) bool { return false })
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadUntil = %v, want ErrConnectionClosed", err)
	}
	if len(lines) != 1 {
		t.Errorf("ReadUntil returned %d lines before closure, want 1", len(lines))
	}
}

func TestReadLineTimeout(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {
		f.line() // send nothing; wait for the client
	})

	start := time.Now()
	_, err := c.ReadLineTimeout(50 * time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("ReadLineTimeout = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("bounded read took %s", elapsed)
	}

	// The deadline must not poison later reads.
	_ = c.WriteLine("go")
	_ = c.Close()
}

func TestReadLineTimeoutKeepsPartialLine(t *testing.T) {
	// A push split across a deadline must come back whole: the prefix
	// consumed before the timeout may not be dropped.
	c := dialTest(t, func(f *fakeConn) {
		_, _ = io.WriteString(f.conn, "* 1 EXI")
		time.Sleep(300 * time.Millisecond)
		f.send("STS")
		f.line()
	})

	if _, err := c.ReadLineTimeout(100 * time.Millisecond); !IsTimeout(err) {
		t.Fatalf("first read = %v, want timeout", err)
	}
	line, err := c.ReadLineTimeout(time.Second)
	if err != nil {
		t.Fatalf("second read: %s", err)
	}
	if line != "* 1 EXISTS" {
		t.Errorf("line = %q, want %q", line, "* 1 EXISTS")
	}
	_ = c.WriteLine("done")
}

func TestReadLineCompletesTimedOutPartial(t *testing.T) {
	// The retained prefix also completes a later unbounded read.
	c := dialTest(t, func(f *fakeConn) {
		_, _ = io.WriteString(f.conn, "A0001 OK ")
		time.Sleep(200 * time.Millisecond)
		f.send("done", "next line")
		f.line()
	})

	if _, err := c.ReadLineTimeout(50 * time.Millisecond); !IsTimeout(err) {
		t.Fatalf("bounded read = %v, want timeout", err)
	}
	line, err := c.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %s", err)
	}
	if line != "A0001 OK done" {
		t.Errorf("line = %q, want %q", line, "A0001 OK done")
	}
	// The pending buffer must not leak into the line after it.
	line, err = c.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %s", err)
	}
	if line != "next line" {
		t.Errorf("line = %q, want %q", line, "next line")
	}
	_ = c.WriteLine("done")
}

func TestDropNl(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"line\r\n", "line"},
		{"line\n", "line"},
		{"line", "line"},
		{"\r\n", ""},
		{"", ""},
	} {
		if got := dropNl(tc.in); got != tc.want {
			t.Errorf("dropNl(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCloseTwice(t *testing.T) {
	c := dialTest(t, func(f *fakeConn) {})
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %s", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close: %s", err)
	}
	if !c.Closed() {
		t.Error("Closed() = false after Close")
	}
}
