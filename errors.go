package mailprobe

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionClosed reports that the peer closed the stream before a
// complete line was read.
var ErrConnectionClosed = errors.New("connection closed by peer")

// ConnectionError is a transport-level failure: refused, reset, broken
// pipe or dial/read/write timeout.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or out-of-sequence response: a missing
// continuation marker, a tag never echoed back, or a command issued in
// a state the protocol forbids.
type ProtocolError struct {
	Proto  string // "imap" or "smtp"
	Detail string
	Line   string // offending line, if any
}

func (e *ProtocolError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s protocol error: %s: %q", e.Proto, e.Detail, e.Line)
	}
	return fmt.Sprintf("%s protocol error: %s", e.Proto, e.Detail)
}

// AuthenticationError reports a rejected LOGIN or AUTH exchange.
type AuthenticationError struct {
	User string
	Text string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %q: %s", e.User, e.Text)
}

// MailboxError reports a rejected SELECT, CREATE or DELETE.
type MailboxError struct {
	Op      string
	Mailbox string
	Status  string
	Text    string
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("%s %q failed: %s %s", e.Op, e.Mailbox, e.Status, e.Text)
}

// SmtpRejected reports an SMTP step that returned an unexpected status.
// Callers decide whether the rejection is a failure or the expected
// outcome of the step (e.g. policy tests want a rejection).
type SmtpRejected struct {
	Command string
	Code    int
	Text    string
}

func (e *SmtpRejected) Error() string {
	return fmt.Sprintf("smtp %s rejected: %d %s", e.Command, e.Code, e.Text)
}

// IdleRejected reports that the server did not accept the IDLE command
// with a continuation line.
type IdleRejected struct {
	Line string
}

func (e *IdleRejected) Error() string {
	return fmt.Sprintf("IDLE not accepted: %q", e.Line)
}

// IdleError reports a non-OK response to the IDLE tag after DONE.
type IdleError struct {
	Status string
	Text   string
}

func (e *IdleError) Error() string {
	return fmt.Sprintf("DONE failed: %s %s", e.Status, e.Text)
}

// DeliveryTimeout reports that an expected message or notification was
// never observed within a scenario's deadline.
type DeliveryTimeout struct {
	Mailbox string
	Waited  time.Duration
}

func (e *DeliveryTimeout) Error() string {
	return fmt.Sprintf("no delivery observed in %q after %s", e.Mailbox, e.Waited)
}
