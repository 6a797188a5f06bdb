package mailprobe

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
)

var (
	nextConnNum      = 0
	nextConnNumMutex = sync.RWMutex{}
)

// Conn is the line transport both protocol clients drive: a plaintext
// TCP stream with a persistent read buffer. Bytes read past a line
// terminator stay buffered for the next call, and a partial line
// consumed before a read deadline expired is retained and completed by
// the next read.
//
// A Conn is not safe for concurrent use. Exactly one goroutine may read
// from it at any instant; the IDLE loop takes over the read path only
// through the client's explicit state transition.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	pending []byte
	Host    string
	Port    int
	ConnNum int
	proto   string
	closed  bool
}

// DialConn opens a plaintext TCP connection, retrying transient dial
// failures up to RetryCount times. proto ("imap" or "smtp") is used
// only for logging context.
func DialConn(proto string, host string, port int) (c *Conn, err error) {
	nextConnNumMutex.Lock()
	connNum := nextConnNum
	nextConnNum++
	nextConnNumMutex.Unlock()

	err = retry.Retry(func() error {
		debugLog(proto, connNum, "", "establishing connection", "addr", net.JoinHostPort(host, strconv.Itoa(port)))
		dialer := &net.Dialer{Timeout: DialTimeout}
		var nc net.Conn
		nc, err = dialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			debugLog(proto, connNum, "", "failed to connect", "error", err)
			return err
		}
		c = &Conn{
			conn:    nc,
			r:       bufio.NewReader(nc),
			Host:    host,
			Port:    port,
			ConnNum: connNum,
			proto:   proto,
		}
		return nil
	}, RetryCount, func(err error) error {
		debugLog(proto, connNum, "", "failed to connect, retrying shortly")
		return nil
	}, func() error {
		debugLog(proto, connNum, "", "retrying connection now")
		return nil
	})
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	return c, nil
}

// ReadLine returns the next CRLF-terminated line with the terminator
// stripped. A bare LF terminator is tolerated. If the peer closes the
// stream before a terminator is seen, ErrConnectionClosed is returned.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.pending = append(c.pending, line...)
		return "", &ConnectionError{Op: "read", Err: ErrConnectionClosed}
	}
	return c.takeLine(line), nil
}

// ReadLineTimeout is ReadLine bounded by a read deadline. A timeout is
// reported by a net.Error whose Timeout() is true; IsTimeout
// distinguishes it from a closed connection. A deadline can expire
// mid-line after bufio has consumed the prefix; that prefix is kept and
// joined onto the next read so no bytes are lost across timeouts.
func (c *Conn) ReadLineTimeout(d time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", &ConnectionError{Op: "deadline", Err: err}
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	line, err := c.r.ReadString('\n')
	if err != nil {
		c.pending = append(c.pending, line...)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", err
		}
		return "", &ConnectionError{Op: "read", Err: ErrConnectionClosed}
	}
	return c.takeLine(line), nil
}

// takeLine completes a terminated read with any partial prefix retained
// from an earlier timed-out read.
func (c *Conn) takeLine(line string) string {
	if len(c.pending) > 0 {
		line = string(c.pending) + line
		c.pending = c.pending[:0]
	}
	return dropNl(line)
}

// IsTimeout reports whether err is a bounded-read deadline expiry.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// ReadUntil reads lines until pred reports the final one, returning all
// lines read including the final. The peer closing the stream before
// pred is satisfied surfaces as the transport's closure error for the
// caller to promote into a protocol error.
func (c *Conn) ReadUntil(pred func(line string) bool) ([]string, error) {
	var lines []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
		if pred(line) {
			return lines, nil
		}
	}
}

// Write writes raw bytes to the stream.
func (c *Conn) Write(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// WriteLine writes a command line followed by CRLF.
func (c *Conn) WriteLine(line string) error {
	return c.Write([]byte(line + "\r\n"))
}

// SetDeadline bounds all pending reads and writes. A zero time clears it.
func (c *Conn) SetDeadline(t time.Time) {
	_ = c.conn.SetDeadline(t)
}

// Close closes the underlying stream. Closing twice is harmless.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	debugLog(c.proto, c.ConnNum, "", "closing connection")
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close: %s", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed }

// dropNl removes trailing newline characters from a line
func dropNl(s string) string {
	if len(s) >= 1 && s[len(s)-1] == '\n' {
		if len(s) >= 2 && s[len(s)-2] == '\r' {
			return s[:len(s)-2]
		}
		return s[:len(s)-1]
	}
	return s
}
