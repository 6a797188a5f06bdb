package mailprobe

import (
	"strings"
	"time"
)

// IdleStart issues IDLE and reads exactly one line, which must be the
// server's "+" continuation. On success the connection transitions to
// Idling: the caller (or the goroutine it hands the client to) owns the
// read path until IdleDone.
func (c *IMAPClient) IdleStart() error {
	switch c.State() {
	case StateIdling:
		return &ProtocolError{Proto: "imap", Detail: "already idling"}
	case StateAuthenticated, StateSelected:
	default:
		return &ProtocolError{Proto: "imap", Detail: "IDLE requires an authenticated connection, state is " + stateNames[c.State()]}
	}

	tag := c.nextTag()
	debugLog("imap", c.conn.ConnNum, c.Mailbox, "sending command", "tag", tag, "command", "IDLE")
	if err := c.conn.WriteLine(tag + " IDLE"); err != nil {
		return err
	}

	line, err := c.conn.ReadLine()
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	if !strings.HasPrefix(line, "+") {
		return &IdleRejected{Line: line}
	}
	debugLog("imap", c.conn.ConnNum, c.Mailbox, "idle accepted", "line", line)

	c.idleTag = tag
	c.setState(StateIdling)
	return nil
}

// IdleWait collects server pushes while idling. It performs bounded
// reads of at most IdlePollSlice each and returns the lines observed
// once either a line containing EXISTS is seen or timeout elapses in
// total. It never blocks past timeout.
func (c *IMAPClient) IdleWait(timeout time.Duration) ([]string, error) {
	if c.State() != StateIdling {
		return nil, &ProtocolError{Proto: "imap", Detail: "IdleWait outside an IDLE session"}
	}

	var lines []string
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines, nil
		}
		slice := IdlePollSlice
		if remaining < slice {
			slice = remaining
		}

		line, err := c.conn.ReadLineTimeout(slice)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			c.setState(StateDisconnected)
			return lines, &ProtocolError{Proto: "imap", Detail: "connection closed during IDLE"}
		}
		debugLog("imap", c.conn.ConnNum, c.Mailbox, "idle push", "line", line)
		lines = append(lines, line)
		if strings.Contains(line, "EXISTS") {
			return lines, nil
		}
	}
}

// IdleDone sends DONE and reads to the pending IDLE tag's response,
// transitioning back to Selected (or Authenticated when no mailbox is
// open). The hand-off of read ownership back to normal command flow
// happens here.
func (c *IMAPClient) IdleDone() error {
	if c.State() != StateIdling {
		return &ProtocolError{Proto: "imap", Detail: "IdleDone outside an IDLE session"}
	}

	debugLog("imap", c.conn.ConnNum, c.Mailbox, "sending command", "command", "DONE")
	if err := c.conn.WriteLine("DONE"); err != nil {
		return err
	}

	// Leave Idling before reading so readTagged's state bookkeeping
	// applies; a failed read below drops to Disconnected.
	if c.Mailbox != "" {
		c.setState(StateSelected)
	} else {
		c.setState(StateAuthenticated)
	}

	resp, err := c.readTagged(c.idleTag)
	c.idleTag = ""
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return &IdleError{Status: resp.Status, Text: resp.Text}
	}
	return nil
}
